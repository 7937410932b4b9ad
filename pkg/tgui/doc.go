// Package tgui provides small Telegram UI helpers:
//   - inline and reply keyboard builders
//   - callback data in the "ns:action:payload" form
//   - an HTML-safe message builder
package tgui
