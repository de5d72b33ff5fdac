// Package replay runs scripted conversations against an interruption
// session and checks every decision against the expected one.
//
// A scenario is a YAML document:
//
//	name: counting
//	steps:
//	  - event: speech_start
//	    say: "One... two... three..."
//	  - transcript: "no stop"
//	    expect:
//	      interrupt: true
//	      reason: command_word_detected
//	      state: silent
//
// Each step is exactly one of an agent event, a user transcript or a pause.
// Transcripts are final with confidence 1 unless stated otherwise. Interim
// transcripts are debounced in the background like a live gateway would and
// their expectations are checked once they resolve.
package replay

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/turnguard/internal/config"
)

//go:embed scenarios/*.yaml
var builtin embed.FS

// Agent events accepted in [Step.Event].
const (
	EventSpeechStart = "speech_start"
	EventSpeechEnd   = "speech_end"
	EventProcessing  = "processing"
)

// Scenario is a scripted conversation.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	// Interruption overrides the caller's interruption config for this
	// scenario. Unset fields take their defaults.
	Interruption *config.InterruptionConfig `yaml:"interruption,omitempty"`

	Steps []Step `yaml:"steps"`
}

// Step is one scripted action.
type Step struct {
	// Event changes the agent's activity state.
	Event string `yaml:"event,omitempty"`

	// Say is what the agent is saying at this point. It is only logged.
	Say string `yaml:"say,omitempty"`

	// Transcript is user speech as delivered by the recogniser. An empty
	// string is a valid (empty) transcript.
	Transcript *string  `yaml:"transcript,omitempty"`
	Confidence *float64 `yaml:"confidence,omitempty"`
	Interim    bool     `yaml:"interim,omitempty"`

	// Sleep pauses the script.
	Sleep time.Duration `yaml:"sleep,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect lists the checked parts of a transcript's outcome. Empty fields
// are not checked.
type Expect struct {
	Interrupt *bool  `yaml:"interrupt,omitempty"`
	Reason    string `yaml:"reason,omitempty"`
	Action    string `yaml:"action,omitempty"`

	// State is the agent state after the decision was dispatched.
	State string `yaml:"state,omitempty"`
}

// Parse decodes and validates a scenario document. Unknown fields are
// rejected.
func Parse(r io.Reader) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("replay: decode yaml: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("replay: invalid scenario: %w", err)
	}
	return &sc, nil
}

// Load reads the scenario file at path. A scenario without a name is named
// after its file.
func Load(p string) (*Scenario, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("replay: read %q: %w", p, err)
	}
	return parseNamed(data, filepath.Base(p))
}

// LoadDir loads every *.yaml and *.yml file in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	return loadFS(os.DirFS(dir), ".")
}

// Builtin returns the scenarios shipped with the binary.
func Builtin() []*Scenario {
	out, err := loadFS(builtin, "scenarios")
	if err != nil {
		panic(fmt.Sprintf("replay: builtin scenarios: %v", err))
	}
	return out
}

func loadFS(fsys fs.FS, dir string) ([]*Scenario, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("replay: read dir: %w", err)
	}
	var out []*Scenario
	for _, e := range entries {
		ext := path.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("replay: read %q: %w", e.Name(), err)
		}
		sc, err := parseNamed(data, e.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("replay: no scenarios in %q", dir)
	}
	return out, nil
}

func parseNamed(data []byte, file string) (*Scenario, error) {
	sc, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	if sc.Name == "" {
		sc.Name = strings.TrimSuffix(file, path.Ext(file))
	}
	return sc, nil
}

var (
	validEvents  = []string{EventSpeechStart, EventSpeechEnd, EventProcessing}
	validReasons = []string{
		"low_confidence_or_empty", "command_word_detected", "soft_word_ignored_while_speaking",
		"new_content_while_speaking", "agent_silent_process_input", "superseded",
	}
	validActions = []string{"none", "cancel_output", "deliver_input", "acknowledge"}
	validStates  = []string{"silent", "speaking", "processing"}
)

// Validate reports every malformed step.
func (sc *Scenario) Validate() error {
	var errs []error
	if len(sc.Steps) == 0 {
		errs = append(errs, errors.New("scenario has no steps"))
	}
	for i, s := range sc.Steps {
		kinds := 0
		if s.Event != "" {
			kinds++
			if !slices.Contains(validEvents, s.Event) {
				errs = append(errs, fmt.Errorf("step %d: unknown event %q", i+1, s.Event))
			}
		}
		if s.Transcript != nil {
			kinds++
		}
		if s.Sleep != 0 {
			kinds++
			if s.Sleep < 0 {
				errs = append(errs, fmt.Errorf("step %d: negative sleep %v", i+1, s.Sleep))
			}
		}
		if kinds != 1 && !(kinds == 0 && s.Say != "") {
			errs = append(errs, fmt.Errorf("step %d: want exactly one of event, transcript or sleep", i+1))
		}
		if s.Transcript == nil && (s.Confidence != nil || s.Interim || s.Expect != nil) {
			errs = append(errs, fmt.Errorf("step %d: confidence, interim and expect need a transcript", i+1))
		}
		if c := s.Confidence; c != nil && !(*c >= 0 && *c <= 1) {
			errs = append(errs, fmt.Errorf("step %d: confidence %.2f is out of range [0, 1]", i+1, *c))
		}
		if e := s.Expect; e != nil {
			if e.Reason != "" && !slices.Contains(validReasons, e.Reason) {
				errs = append(errs, fmt.Errorf("step %d: unknown reason %q", i+1, e.Reason))
			}
			if e.Action != "" && !slices.Contains(validActions, e.Action) {
				errs = append(errs, fmt.Errorf("step %d: unknown action %q", i+1, e.Action))
			}
			if e.State != "" && !slices.Contains(validStates, e.State) {
				errs = append(errs, fmt.Errorf("step %d: unknown state %q", i+1, e.State))
			}
		}
	}
	return errors.Join(errs...)
}
