package model

import (
	"encoding/json"
)

// Metadata holds the state-machine position plus collaborator-specific data.
// CurrentStep is the single source of truth for where the engine resumes.
type Metadata struct {
	CurrentStep Step `json:"currentStep"`

	// StepInput is the input override in effect for the current step, kept so
	// a retried attempt uses the same input as the one that failed.
	StepInput string `json:"stepInput,omitempty"`

	Notification *PushNotificationConfig `json:"notification,omitempty"`

	// Extra is an open extension map; keys are inlined on the wire.
	Extra map[string]any `json:"-"`
}

var metadataKeys = map[string]bool{
	"currentStep":  true,
	"stepInput":    true,
	"notification": true,
}

// Merge applies a metadata patch. CurrentStep is only changed when set,
// StepInput is always replaced, Extra keys are merged.
func (m *Metadata) Merge(patch Metadata) {
	if patch.CurrentStep != "" {
		m.CurrentStep = patch.CurrentStep
	}
	m.StepInput = patch.StepInput
	if patch.Notification != nil {
		n := *patch.Notification
		m.Notification = &n
	}
	if len(patch.Extra) > 0 {
		if m.Extra == nil {
			m.Extra = make(map[string]any, len(patch.Extra))
		}
		for k, v := range patch.Extra {
			m.Extra[k] = v
		}
	}
}

func (m Metadata) Clone() Metadata {
	out := m
	if m.Notification != nil {
		n := *m.Notification
		n.EventTypes = append([]string(nil), m.Notification.EventTypes...)
		out.Notification = &n
	}
	out.Extra = cloneMap(m.Extra)
	return out
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+3)
	for k, v := range m.Extra {
		if !metadataKeys[k] {
			out[k] = v
		}
	}
	out["currentStep"] = m.CurrentStep
	if m.StepInput != "" {
		out["stepInput"] = m.StepInput
	}
	if m.Notification != nil {
		out["notification"] = m.Notification
	}
	return json.Marshal(out)
}

func (m *Metadata) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*m = Metadata{}
	if v, ok := raw["currentStep"]; ok {
		if err := json.Unmarshal(v, &m.CurrentStep); err != nil {
			return err
		}
	}
	if v, ok := raw["stepInput"]; ok {
		if err := json.Unmarshal(v, &m.StepInput); err != nil {
			return err
		}
	}
	if v, ok := raw["notification"]; ok && string(v) != "null" {
		m.Notification = &PushNotificationConfig{}
		if err := json.Unmarshal(v, m.Notification); err != nil {
			return err
		}
	}

	for k, v := range raw {
		if metadataKeys[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		if m.Extra == nil {
			m.Extra = make(map[string]any)
		}
		m.Extra[k] = val
	}
	return nil
}
