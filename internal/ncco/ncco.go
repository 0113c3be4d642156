// Package ncco builds the voice provider's call-control scripts: ordered lists
// of actions the provider executes for a call leg.
package ncco

// NCCO is an ordered call-control script.
type NCCO []Action

type Action struct {
	Action   string     `json:"action"`
	Text     string     `json:"text,omitempty"`
	EventURL []string   `json:"eventUrl,omitempty"`
	Name     string     `json:"name,omitempty"`
	Token    string     `json:"token,omitempty"`
	From     string     `json:"from,omitempty"`
	Endpoint []Endpoint `json:"endpoint,omitempty"`
	Type     []string   `json:"type,omitempty"`
	DTMF     *DTMF      `json:"dtmf,omitempty"`
}

type Endpoint struct {
	Type   string `json:"type"`
	Number string `json:"number,omitempty"`
}

// DTMF tunes the digit collection of an input action.
type DTMF struct {
	MaxDigits    int  `json:"maxDigits,omitempty"`
	TimeOut      int  `json:"timeOut,omitempty"`
	SubmitOnHash bool `json:"submitOnHash,omitempty"`
}

func Talk(text string) Action {
	return Action{Action: "talk", Text: text}
}

// Input collects digits and posts them to eventURL.
func Input(eventURL string) Action {
	return Action{
		Action:   "input",
		Type:     []string{"dtmf"},
		EventURL: []string{eventURL},
		DTMF:     &DTMF{MaxDigits: 4, TimeOut: 10, SubmitOnHash: true},
	}
}

// Conversation joins the leg to the named conversation. token may be empty.
func Conversation(name, token string) Action {
	return Action{Action: "conversation", Name: name, Token: token}
}

// ConnectPhone forwards the leg to a PSTN number.
func ConnectPhone(number, from string) Action {
	return Action{
		Action:   "connect",
		From:     from,
		Endpoint: []Endpoint{{Type: "phone", Number: number}},
	}
}

// PromptForPin speaks prompt and waits for the pin digits.
func PromptForPin(prompt, dtmfURL string) NCCO {
	return NCCO{Talk(prompt), Input(dtmfURL)}
}

// Join is the script that bridges a caller into the session's conversation.
func Join(sessionID, token string) NCCO {
	return NCCO{Conversation(sessionID, token)}
}
