package telegram

import (
	"fmt"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"

	"ikasa/internal/funnel"
	"ikasa/internal/guard"
	"ikasa/internal/session"
	"ikasa/internal/theme"
)

const (
	cbPrefix = "ik:"

	cbNav         = cbPrefix + "nav:"
	cbContinue    = cbPrefix + "continue"
	cbGuest       = cbPrefix + "guest"
	cbSignIn      = cbPrefix + "auth:signin"
	cbSignUp      = cbPrefix + "auth:signup"
	cbPhone       = cbPrefix + "auth:phone"
	cbSSO         = cbPrefix + "auth:sso"
	cbResendOTP   = cbPrefix + "auth:resend"
	cbName        = cbPrefix + "name"
	cbGender      = cbPrefix + "gender:"
	cbPrefer      = cbPrefix + "pref:"
	cbSaveProfile = cbPrefix + "profile:save"
	cbStyle       = cbPrefix + "style:"
	cbCharacter   = cbPrefix + "char:"
	cbScenario    = cbPrefix + "scn:"
	cbTheme       = cbPrefix + "theme"
	cbReset       = cbPrefix + "reset"
	cbSignOut     = cbPrefix + "signout"
)

const (
	loadingText    = "Checking your session…"
	transcriptSize = 10
)

type screen struct {
	Text   string
	Markup *gotgbot.InlineKeyboardMarkup
}

func renderScreen(r guard.Route, st session.State, form formState, p theme.Palette) screen {
	switch r {
	case guard.RouteHome:
		return homeScreen(st, p)
	case guard.RouteAuth:
		return authScreen(form)
	case guard.RouteProfile:
		return profileScreen(st, form, p)
	case guard.RouteStyle:
		return styleScreen(st)
	case guard.RouteCharacter:
		return characterScreen(st, p)
	case guard.RouteScenario:
		return scenarioScreen(st, p)
	case guard.RouteChat:
		return chatScreen(st, p)
	default:
		return screen{
			Text:   "Page not found. The screen you asked for does not exist.",
			Markup: keyboard(row(button("Go home", cbNav+string(guard.RouteHome)))),
		}
	}
}

func homeScreen(st session.State, p theme.Palette) screen {
	if st.Authenticated() && st.SessionStatus != session.StatusNone {
		label := "Continue setup"
		if st.OnboardingComplete {
			label = "Open chat"
		}
		return screen{
			Text: "Welcome back to Ikasa.\nPick up where you left off.",
			Markup: keyboard(
				row(button(label, cbContinue)),
				row(button(p.ToggleLabel, cbTheme), button("Sign out", cbSignOut)),
			),
		}
	}
	return screen{
		Text: strings.Join([]string{
			"Welcome to Ikasa",
			"",
			"Meet an AI companion made for you. Set up your profile, choose a style and a character, then start chatting.",
		}, "\n"),
		Markup: keyboard(
			row(button("Continue as guest", cbGuest)),
			row(button("Sign in or create account", cbNav+string(guard.RouteAuth))),
			row(button(p.ToggleLabel, cbTheme)),
		),
	}
}

func authScreen(form formState) screen {
	lines := []string{"Sign in", "", "Choose how you want to continue."}
	switch form.Awaiting {
	case AwaitEmail:
		lines = append(lines, "", "Send your email address.")
	case AwaitPassword:
		lines = append(lines, "", fmt.Sprintf("Send the password for %s.", form.Email))
	case AwaitPhone:
		lines = append(lines, "", "Send your phone number with country code, for example +15551234567.")
	case AwaitOTP:
		lines = append(lines, "", fmt.Sprintf("Send the code we texted to %s.", form.Phone))
	}
	rows := [][]gotgbot.InlineKeyboardButton{
		row(button("Sign in with email", cbSignIn), button("Create account", cbSignUp)),
		row(button("Use phone number", cbPhone)),
		row(button("Continue with single sign-on", cbSSO)),
	}
	if form.Awaiting == AwaitOTP {
		rows = append(rows, row(button("Resend code", cbResendOTP)))
	}
	rows = append(rows, row(button("Back", cbNav+string(guard.RouteHome))))
	return screen{Text: strings.Join(lines, "\n"), Markup: keyboard(rows...)}
}

var (
	genderLabels = [][2]string{
		{session.GenderMale, "Male"},
		{session.GenderFemale, "Female"},
		{session.GenderOther, "Other"},
	}
	preferLabels = [][2]string{
		{session.PreferMale, "Men"},
		{session.PreferFemale, "Women"},
		{session.PreferAny, "Anyone"},
	}
)

// draftOf seeds the profile form from the saved profile.
func draftOf(st session.State, form formState) session.Profile {
	d := form.Draft
	if d == (session.Profile{}) {
		d = st.Profile
	}
	return d
}

func profileScreen(st session.State, form formState, p theme.Palette) screen {
	d := draftOf(st, form)
	name := d.Name
	if name == "" {
		name = "not set"
	}
	lines := []string{
		"Tell us about yourself",
		"",
		fmt.Sprintf("%s Name: %s", p.Bullet, name),
		fmt.Sprintf("%s I am: %s", p.Bullet, labelOf(genderLabels, d.Gender)),
		fmt.Sprintf("%s I'd like to meet: %s", p.Bullet, labelOf(preferLabels, d.PreferredGender)),
	}
	if form.Awaiting == AwaitName {
		lines = append(lines, "", "Send your name.")
	}

	genders := make([]gotgbot.InlineKeyboardButton, 0, len(genderLabels))
	for _, g := range genderLabels {
		genders = append(genders, button(checked(g[1], d.Gender == g[0]), cbGender+g[0]))
	}
	prefers := make([]gotgbot.InlineKeyboardButton, 0, len(preferLabels))
	for _, g := range preferLabels {
		prefers = append(prefers, button(checked(g[1], d.PreferredGender == g[0]), cbPrefer+g[0]))
	}
	rows := [][]gotgbot.InlineKeyboardButton{row(button("Set name", cbName)), genders, prefers}
	if funnel.CanContinue(d) {
		rows = append(rows, row(button("Continue", cbSaveProfile)))
	}
	return screen{Text: strings.Join(lines, "\n"), Markup: keyboard(rows...)}
}

func styleScreen(st session.State) screen {
	return screen{
		Text: "Choose your style\n\nHow should your companion look?",
		Markup: keyboard(
			row(
				button(checked("Realistic", st.Style == session.StyleReal), cbStyle+string(session.StyleReal)),
				button(checked("Anime", st.Style == session.StyleAnime), cbStyle+string(session.StyleAnime)),
			),
			row(button("Back", cbNav+string(guard.RouteProfile))),
		),
	}
}

func characterScreen(st session.State, p theme.Palette) screen {
	lines := []string{"Choose your companion", ""}
	rows := make([][]gotgbot.InlineKeyboardButton, 0, len(st.Characters)+1)
	for _, c := range st.Characters {
		selected := st.SelectedCharacter != nil && st.SelectedCharacter.ID == c.ID
		lines = append(lines, fmt.Sprintf("%s %s: %s", p.Bullet, c.Name, c.Description))
		rows = append(rows, row(button(checked(c.Name, selected), cbCharacter+c.ID)))
	}
	if len(st.Characters) == 0 {
		lines = append(lines, "No companions are available right now.")
	}
	rows = append(rows, row(button("Back", cbNav+string(guard.RouteStyle))))
	return screen{Text: strings.Join(lines, "\n"), Markup: keyboard(rows...)}
}

func scenarioScreen(st session.State, p theme.Palette) screen {
	header := "Choose a scenario"
	if st.SelectedCharacter != nil {
		header = fmt.Sprintf("Where will you meet %s?", st.SelectedCharacter.Name)
	}
	lines := []string{header, ""}
	rows := make([][]gotgbot.InlineKeyboardButton, 0, len(st.Scenarios)+1)
	for _, sc := range st.Scenarios {
		selected := st.SelectedScenario != nil && st.SelectedScenario.ID == sc.ID
		lines = append(lines, fmt.Sprintf("%s %s: %s", p.Bullet, sc.Name, sc.Description))
		rows = append(rows, row(button(checked(sc.Name, selected), cbScenario+sc.ID)))
	}
	rows = append(rows, row(button("Back", cbNav+string(guard.RouteCharacter))))
	return screen{Text: strings.Join(lines, "\n"), Markup: keyboard(rows...)}
}

func chatScreen(st session.State, p theme.Palette) screen {
	speaker := "Your companion"
	if st.SelectedCharacter != nil {
		speaker = st.SelectedCharacter.Name
	}
	header := speaker
	if st.SelectedScenario != nil {
		header = fmt.Sprintf("%s · %s", speaker, st.SelectedScenario.Name)
	}
	lines := []string{header, ""}
	msgs := st.Messages
	if len(msgs) > transcriptSize {
		msgs = msgs[len(msgs)-transcriptSize:]
	}
	if len(msgs) == 0 {
		lines = append(lines, fmt.Sprintf("Say hi to %s. Just send a message.", speaker))
	}
	for _, m := range msgs {
		lines = append(lines, formatMessage(m, speaker, p))
	}
	if st.IsTyping {
		lines = append(lines, fmt.Sprintf("%s %s is typing…", p.AIPrefix, speaker))
	}
	return screen{
		Text: strings.Join(lines, "\n"),
		Markup: keyboard(
			row(button(p.ToggleLabel, cbTheme)),
			row(button("Start over", cbReset), button("Sign out", cbSignOut)),
		),
	}
}

func formatMessage(m session.Message, speaker string, p theme.Palette) string {
	if m.Sender == session.SenderUser {
		return fmt.Sprintf("%s: %s", p.UserPrefix, m.Content)
	}
	return fmt.Sprintf("%s %s: %s", p.AIPrefix, speaker, m.Content)
}

func statusText(st session.State, classes string, recent []string) string {
	account := "signed out"
	if st.Identity != nil {
		account = st.Identity.UserID
		if st.Identity.Provider != "" {
			account += " (" + st.Identity.Provider + ")"
		}
	}
	lines := []string{
		"Session status",
		fmt.Sprintf("account: %s", account),
		fmt.Sprintf("session: %s", st.SessionStatus),
		fmt.Sprintf("onboarding_step: %d", st.OnboardingStep),
		fmt.Sprintf("onboarding_complete: %t", st.OnboardingComplete),
		fmt.Sprintf("messages: %d", len(st.Messages)),
		fmt.Sprintf("dark_mode: %t", st.IsDarkMode),
	}
	if classes != "" {
		lines = append(lines, fmt.Sprintf("root_classes: %s", classes))
	}
	if len(recent) > 0 {
		lines = append(lines, "", "Recent activity:")
		lines = append(lines, recent...)
	}
	return strings.Join(lines, "\n")
}

func helpText() string {
	return strings.Join([]string{
		"Commands:",
		"/start - home",
		"/auth - sign in or create an account",
		"/profile, /style, /character, /scenario - onboarding steps",
		"/chat - open the chat",
		"/theme - toggle dark mode",
		"/status - show your session",
		"/cancel - stop the current input",
		"/reset - start over",
		"/signout - sign out everywhere on this account",
	}, "\n")
}

// fieldText renders validation errors one per line, in field order.
func fieldText(errs map[string]string) string {
	order := []string{"email", "password", "phone", "otp", "name", "gender", "preferredGender", "style", "character", "scenario"}
	lines := make([]string, 0, len(errs))
	for _, k := range order {
		if msg, ok := errs[k]; ok {
			lines = append(lines, msg)
		}
	}
	return strings.Join(lines, "\n")
}

func labelOf(labels [][2]string, v string) string {
	for _, l := range labels {
		if l[0] == v {
			return l[1]
		}
	}
	return "not set"
}

func checked(label string, on bool) string {
	if on {
		return "✓ " + label
	}
	return label
}

func button(text, data string) gotgbot.InlineKeyboardButton {
	return gotgbot.InlineKeyboardButton{Text: text, CallbackData: data}
}

func row(buttons ...gotgbot.InlineKeyboardButton) []gotgbot.InlineKeyboardButton {
	return buttons
}

func keyboard(rows ...[]gotgbot.InlineKeyboardButton) *gotgbot.InlineKeyboardMarkup {
	return &gotgbot.InlineKeyboardMarkup{InlineKeyboard: rows}
}
