package tgui

// Confirm asks question with a Yes/No keyboard. yesData and noData are the
// callback data of the two buttons.
func Confirm(question, yesData, noData string) Message {
	return New().
		Title("⚠️", question).
		Inline(ConfirmInline(yesData, noData)).
		Build()
}

// ConfirmInline is the Yes/No keyboard row used by Confirm.
func ConfirmInline(yesData, noData string) *Inline {
	return NewInline().Row(Btn("✅ Yes", yesData), Btn("✖️ No", noData))
}
