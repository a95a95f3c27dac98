// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package params

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/juju/errors"

	"github.com/juju/srr/core/srr"
)

// ListResponse describes the groups that can be saved and restored.
type ListResponse struct {
	Version               string      `json:"version"`
	PassphraseDescription string      `json:"passphrase_description"`
	PassphraseValidation  string      `json:"passphrase_validation"`
	Groups                []GroupInfo `json:"groups"`
}

// GroupInfo describes one group of a ListResponse.
type GroupInfo struct {
	GroupID     string        `json:"group_id"`
	GroupName   string        `json:"group_name"`
	Description string        `json:"description"`
	Features    []FeatureInfo `json:"features"`
}

// FeatureInfo describes one feature of a group.
type FeatureInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// SaveRequest asks for the given groups to be saved.
type SaveRequest struct {
	Passphrase string   `json:"passphrase"`
	GroupList  []string `json:"group_list"`
}

// SaveResponse holds the saved groups. Error is set when Status is not
// SUCCESS.
type SaveResponse struct {
	Version  string  `json:"version"`
	Status   string  `json:"status"`
	Error    string  `json:"error,omitempty"`
	Checksum string  `json:"checksum"`
	Data     []Group `json:"data"`
}

// Group is a saved group, as produced by save and consumed by a grouped
// restore.
type Group struct {
	GroupID       string         `json:"group_id"`
	GroupName     string         `json:"group_name"`
	DataIntegrity string         `json:"data_integrity"`
	Features      []FeatureEntry `json:"features"`
}

// RestoreRequest asks for previously saved data to be restored. The shape
// of Data depends on Version: a list of FeatureEntry for 1.0, a list of
// Group for 2.0 and later.
type RestoreRequest struct {
	Version    string          `json:"version"`
	Passphrase string          `json:"passphrase"`
	Checksum   string          `json:"checksum"`
	Data       json.RawMessage `json:"data"`
}

// FlatData decodes Data as a flat feature list.
func (r RestoreRequest) FlatData() ([]FeatureEntry, error) {
	var features []FeatureEntry
	if err := json.Unmarshal(r.Data, &features); err != nil {
		return nil, errors.Annotate(err, "decoding restore data")
	}
	return features, nil
}

// GroupedData decodes Data as a list of groups.
func (r RestoreRequest) GroupedData() ([]Group, error) {
	var groups []Group
	if err := json.Unmarshal(r.Data, &groups); err != nil {
		return nil, errors.Annotate(err, "decoding restore data")
	}
	return groups, nil
}

// RestoreResponse holds the overall status of a restore and the status of
// each group (or feature, for 1.0 payloads) that was targeted.
type RestoreResponse struct {
	Status     string          `json:"status"`
	Error      string          `json:"error,omitempty"`
	StatusList []RestoreStatus `json:"status_list"`
}

// RestoreStatus is the restore result of one unit.
type RestoreStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// ResetRequest asks for the given groups to be reset to factory state.
type ResetRequest struct {
	GroupList []string `json:"group_list"`
}

// ResetResponse is the result of a reset.
type ResetResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// FeatureEntry is a saved feature. On the wire it is an object with the
// feature name as its only key:
//
//	{"network": {"version": "1.0", "status": "SUCCESS", "error": "", "data": {...}}}
//
// Data that is already compact JSON (an object or an array) is embedded
// as is so that saved files stay readable; anything else is a string.
//
// Data must be UTF-8 text: JSON cannot carry other bytes unchanged, so
// saved features holding anything else are rejected.
type FeatureEntry struct {
	Name    string
	Version string
	Status  string
	Error   string
	Data    string
}

type featureBody struct {
	Version string          `json:"version"`
	Status  string          `json:"status"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

// MarshalJSON implements json.Marshaler.
func (f FeatureEntry) MarshalJSON() ([]byte, error) {
	body := featureBody{
		Version: f.Version,
		Status:  f.Status,
		Error:   f.Error,
	}
	if embeddable(f.Data) {
		body.Data = json.RawMessage(f.Data)
	} else {
		s, err := json.Marshal(f.Data)
		if err != nil {
			return nil, errors.Trace(err)
		}
		body.Data = s
	}
	return json.Marshal(map[string]featureBody{f.Name: body})
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *FeatureEntry) UnmarshalJSON(b []byte) error {
	var m map[string]featureBody
	if err := json.Unmarshal(b, &m); err != nil {
		return errors.Trace(err)
	}
	if len(m) != 1 {
		return errors.NotValidf("feature entry with %d keys", len(m))
	}
	for name, body := range m {
		entry := FeatureEntry{
			Name:    name,
			Version: body.Version,
			Status:  body.Status,
			Error:   body.Error,
		}
		data := bytes.TrimSpace(body.Data)
		switch {
		case len(data) == 0 || bytes.Equal(data, []byte("null")):
		case data[0] == '"':
			if err := json.Unmarshal(data, &entry.Data); err != nil {
				return errors.Trace(err)
			}
		default:
			var buf bytes.Buffer
			if err := json.Compact(&buf, data); err != nil {
				return errors.Trace(err)
			}
			entry.Data = buf.String()
		}
		*f = entry
	}
	return nil
}

// embeddable reports whether data is a compact JSON object or array, so
// that decoding the embedded form yields exactly the same string.
// Characters the encoder would escape are excluded for the same reason.
func embeddable(data string) bool {
	if data == "" || (data[0] != '{' && data[0] != '[') {
		return false
	}
	if strings.ContainsAny(data, "<>&\u2028\u2029") {
		return false
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(data)); err != nil {
		return false
	}
	return buf.String() == data
}

// FromNamedFeature converts a feature result to its wire form.
func FromNamedFeature(f srr.NamedFeature) FeatureEntry {
	return FeatureEntry{
		Name:    f.Name,
		Version: f.Feature.Version,
		Status:  f.Status.Status.String(),
		Error:   f.Status.Error,
		Data:    f.Feature.Data,
	}
}

// NamedFeature converts the wire form back to a feature.
func (f FeatureEntry) NamedFeature() srr.NamedFeature {
	return srr.NamedFeature{
		Name: f.Name,
		FeatureAndStatus: srr.FeatureAndStatus{
			Feature: srr.FeatureData{Version: f.Version, Data: f.Data},
			Status:  srr.FeatureStatus{Status: srr.Status(f.Status), Error: f.Error},
		},
	}
}
