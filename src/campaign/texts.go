package campaign

type TextKey string

const (
	IntroHeadline           TextKey = "intro.headline"
	IntroStep1              TextKey = "intro.step1"
	IntroStep2              TextKey = "intro.step2"
	IntroStep3              TextKey = "intro.step3"
	IntroPrivacy            TextKey = "intro.privacy"
	CropInstruction         TextKey = "crop.instruction"
	PreviewDOIInstruction   TextKey = "preview.doi.instruction"
	PreviewDOIButton        TextKey = "preview.doi.button"
	PreviewCompletedMessage TextKey = "preview.completed.message"
	PreviewCompletedShare   TextKey = "preview.completed.share"
	ActionEndedMessage      TextKey = "actionEnded.message"

	// messages the server itself sends
	ModerationRejected TextKey = "moderation.rejected"
	RenderFailed       TextKey = "render.failed"
	DOIRequired        TextKey = "doi.required"
)

var texts = map[bool]map[TextKey]string{
	false: {
		IntroHeadline:           "Bring dein Selfie auf die KN-Titelseite",
		IntroStep1:              "Nimm ein Selfie auf. Halte dein Smartphone am besten im Querformat.",
		IntroStep2:              "Registriere dich, bestätige deine E-Mail und schalte deine Titelseite frei",
		IntroStep3:              "Speichere und teile deine Titelseite.",
		IntroPrivacy:            "Fotos bleiben auf deinem Gerät. Keine Speicherung, keine Veröffentlichung.",
		CropInstruction:         "Ziehe den Rahmen, um dein Foto passend zuzuschneiden.",
		PreviewDOIInstruction:   "Klicke auf den Button unten, um am Gewinnspiel teilzunehmen und deine personalisierte Titelseite in voller Auflösung zu erhalten.",
		PreviewDOIButton:        "Am Gewinnspiel teilnehmen & Titelseite freischalten",
		PreviewCompletedMessage: "Du kannst das Bild jetzt speichern und teilen.",
		PreviewCompletedShare:   "Wenn du magst, teile deine Titelseite gerne auf Social Media und markiere",
		ActionEndedMessage:      "Vielen Dank für dein Interesse!",
		ModerationRejected:      "Das Bild entspricht nicht unseren Richtlinien. Bitte versuche es mit einem anderen Foto.",
		RenderFailed:            "Fehler beim Generieren der Titelseite. Bitte versuche es erneut.",
		DOIRequired:             "Bitte bestätige zuerst deine Registrierung.",
	},
	true: {
		IntroHeadline:           "Bringen Sie Ihr Selfie auf die KN-Titelseite",
		IntroStep1:              "Nehmen Sie ein Selfie auf. Halten Sie Ihr Smartphone am besten im Querformat.",
		IntroStep2:              "Registrieren Sie sich, bestätigen Sie Ihre E-Mail und schalten Sie Ihre Titelseite frei",
		IntroStep3:              "Speichern und teilen Sie Ihre Titelseite.",
		IntroPrivacy:            "Fotos bleiben auf Ihrem Gerät. Keine Speicherung, keine Veröffentlichung.",
		CropInstruction:         "Ziehen Sie den Rahmen, um Ihr Foto passend zuzuschneiden.",
		PreviewDOIInstruction:   "Klicken Sie auf den Button unten, um am Gewinnspiel teilzunehmen und Ihre personalisierte Titelseite in voller Auflösung zu erhalten.",
		PreviewDOIButton:        "Am Gewinnspiel teilnehmen & Titelseite freischalten",
		PreviewCompletedMessage: "Sie können das Bild jetzt speichern und teilen.",
		PreviewCompletedShare:   "Wenn Sie möchten, teilen Sie Ihre Titelseite gerne auf Social Media und markieren Sie",
		ActionEndedMessage:      "Vielen Dank für Ihr Interesse!",
		ModerationRejected:      "Das Bild entspricht nicht unseren Richtlinien. Bitte versuchen Sie es mit einem anderen Foto.",
		RenderFailed:            "Fehler beim Generieren der Titelseite. Bitte versuchen Sie es erneut.",
		DOIRequired:             "Bitte bestätigen Sie zuerst Ihre Registrierung.",
	},
}

// Text picks the Du or Sie wording. Unknown keys come back unchanged.
func (c Config) Text(key TextKey) string {
	if s, ok := texts[c.WhiteLabel.FormalAddress][key]; ok {
		return s
	}
	return string(key)
}
