// Package script holds every user-facing text of the bot: menu buttons,
// fixed replies, completion error templates and the guided questionnaire.
package script

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/zhouzirui/z-tavern/relaybot/internal/model/chat"
)

// QuestionCount is the fixed length of the guided questionnaire.
const QuestionCount = 5

// StartCommand opens the main menu.
const StartCommand = "/start"

//go:embed default.yaml
var defaultYAML []byte

// Script is the text catalog.
type Script struct {
	SystemPrompt string     `yaml:"system_prompt"`
	Buttons      Buttons    `yaml:"buttons"`
	Texts        Texts      `yaml:"texts"`
	Errors       ErrorTexts `yaml:"errors"`
	Diagnostic   Diagnostic `yaml:"diagnostic"`
}

// Buttons are the reply keyboard labels; an inbound text equal to a label
// is treated as a menu command.
type Buttons struct {
	NormalMode string `yaml:"normal_mode"`
	Menu       string `yaml:"menu"`
	Diagnostic string `yaml:"diagnostic"`
}

// Texts are fixed replies. InputTooLong accepts the {max} placeholder.
type Texts struct {
	Welcome        string `yaml:"welcome"`
	ChooseMode     string `yaml:"choose_mode"`
	NormalMode     string `yaml:"normal_mode"`
	Thinking       string `yaml:"thinking"`
	InputTooLong   string `yaml:"input_too_long"`
	DiagnosticDone string `yaml:"diagnostic_done"`
}

// ErrorTexts build the diagnostic reply that replaces a failed completion.
type ErrorTexts struct {
	Status             string `yaml:"status"`
	Details            string `yaml:"details"`
	DetailsUnavailable string `yaml:"details_unavailable"`
	DecodeFailed       string `yaml:"decode_failed"`
	RequestFailed      string `yaml:"request_failed"`
}

// Diagnostic describes the guided questionnaire and the synthesis prompt.
type Diagnostic struct {
	Role      string   `yaml:"role"`
	Intro     string   `yaml:"intro"`
	Answer    string   `yaml:"answer"`
	Outro     string   `yaml:"outro"`
	Questions []string `yaml:"questions"`
}

// Default returns the embedded catalog.
func Default() *Script {
	s, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded script is invalid: %v", err))
	}
	return s
}

// Load reads a catalog from path. Fields missing in the file keep the
// embedded defaults.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML over the embedded defaults and validates the result.
func Parse(data []byte) (*Script, error) {
	s := &Script{}
	if err := yaml.Unmarshal(defaultYAML, s); err != nil {
		return nil, fmt.Errorf("failed to parse default script: %w", err)
	}

	var override Script
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	s.merge(override)

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks that every text the bot sends is present.
func (s *Script) Validate() error {
	required := map[string]string{
		"system_prompt":              s.SystemPrompt,
		"buttons.normal_mode":        s.Buttons.NormalMode,
		"buttons.menu":               s.Buttons.Menu,
		"buttons.diagnostic":         s.Buttons.Diagnostic,
		"texts.thinking":             s.Texts.Thinking,
		"texts.input_too_long":       s.Texts.InputTooLong,
		"texts.diagnostic_done":      s.Texts.DiagnosticDone,
		"errors.status":              s.Errors.Status,
		"errors.decode_failed":       s.Errors.DecodeFailed,
		"errors.request_failed":      s.Errors.RequestFailed,
		"errors.details":             s.Errors.Details,
		"errors.details_unavailable": s.Errors.DetailsUnavailable,
		"diagnostic.role":            s.Diagnostic.Role,
		"diagnostic.answer":          s.Diagnostic.Answer,
	}
	for key, value := range required {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("script field %s is empty", key)
		}
	}

	if len(s.Diagnostic.Questions) != QuestionCount {
		return fmt.Errorf("diagnostic needs exactly %d questions, got %d", QuestionCount, len(s.Diagnostic.Questions))
	}
	for i, q := range s.Diagnostic.Questions {
		if strings.TrimSpace(q) == "" {
			return fmt.Errorf("diagnostic question %d is empty", i+1)
		}
	}
	return nil
}

// MainMenu returns the reply keyboard shown with menu texts.
func (s *Script) MainMenu() *chat.Keyboard {
	return &chat.Keyboard{Rows: [][]string{
		{s.Buttons.NormalMode, s.Buttons.Menu},
		{s.Buttons.Diagnostic},
	}}
}

// InputTooLong renders the rejection for overlong input.
func (s *Script) InputTooLong(max int) string {
	return strings.NewReplacer("{max}", strconv.Itoa(max)).Replace(s.Texts.InputTooLong)
}

// StatusFailure renders the reply for a non-success completion status.
// details is used only when decoded is true; an empty value falls back to
// the "details unavailable" text.
func (s *Script) StatusFailure(status int, details string, decoded bool) string {
	var b strings.Builder
	b.WriteString(strings.NewReplacer("{status}", strconv.Itoa(status)).Replace(s.Errors.Status))
	if !decoded {
		b.WriteString(s.Errors.DecodeFailed)
		return b.String()
	}
	if strings.TrimSpace(details) == "" {
		details = s.Errors.DetailsUnavailable
	}
	b.WriteString(strings.NewReplacer("{details}", details).Replace(s.Errors.Details))
	return b.String()
}

// RequestFailure renders the reply for a transport failure.
func (s *Script) RequestFailure(description string) string {
	return strings.NewReplacer("{error}", description).Replace(s.Errors.RequestFailed)
}

// ComposeDiagnosis builds the user content of the synthesis call.
func (s *Script) ComposeDiagnosis(answers []string) string {
	var parts []string
	if intro := strings.TrimSpace(s.Diagnostic.Intro); intro != "" {
		parts = append(parts, intro)
	}

	for i, question := range s.Diagnostic.Questions {
		answer := ""
		if i < len(answers) {
			answer = answers[i]
		}
		parts = append(parts, strings.NewReplacer(
			"{n}", strconv.Itoa(i+1),
			"{question}", question,
			"{answer}", answer,
		).Replace(s.Diagnostic.Answer))
	}

	if outro := strings.TrimSpace(s.Diagnostic.Outro); outro != "" {
		parts = append(parts, outro)
	}
	return strings.Join(parts, "\n\n")
}

func (s *Script) merge(o Script) {
	setIf(&s.SystemPrompt, o.SystemPrompt)

	setIf(&s.Buttons.NormalMode, o.Buttons.NormalMode)
	setIf(&s.Buttons.Menu, o.Buttons.Menu)
	setIf(&s.Buttons.Diagnostic, o.Buttons.Diagnostic)

	setIf(&s.Texts.Welcome, o.Texts.Welcome)
	setIf(&s.Texts.ChooseMode, o.Texts.ChooseMode)
	setIf(&s.Texts.NormalMode, o.Texts.NormalMode)
	setIf(&s.Texts.Thinking, o.Texts.Thinking)
	setIf(&s.Texts.InputTooLong, o.Texts.InputTooLong)
	setIf(&s.Texts.DiagnosticDone, o.Texts.DiagnosticDone)

	setIf(&s.Errors.Status, o.Errors.Status)
	setIf(&s.Errors.Details, o.Errors.Details)
	setIf(&s.Errors.DetailsUnavailable, o.Errors.DetailsUnavailable)
	setIf(&s.Errors.DecodeFailed, o.Errors.DecodeFailed)
	setIf(&s.Errors.RequestFailed, o.Errors.RequestFailed)

	setIf(&s.Diagnostic.Role, o.Diagnostic.Role)
	setIf(&s.Diagnostic.Intro, o.Diagnostic.Intro)
	setIf(&s.Diagnostic.Answer, o.Diagnostic.Answer)
	setIf(&s.Diagnostic.Outro, o.Diagnostic.Outro)
	if len(o.Diagnostic.Questions) > 0 {
		s.Diagnostic.Questions = append([]string(nil), o.Diagnostic.Questions...)
	}
}

func setIf(dst *string, value string) {
	if strings.TrimSpace(value) != "" {
		*dst = value
	}
}
