package event

import (
	"encoding/json"
	"fmt"
)

// ToStructured renders the event as the name-keyed JSON object used by the
// persisted file format (spec §6): one top-level key per present section,
// named per SectionId.String, valued by that section's own JSON image.
func (e *Event) ToStructured() (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(e.Sections()))
	for _, id := range e.Sections() {
		var (
			raw []byte
			err error
		)
		switch id {
		case Common:
			raw, err = json.Marshal(e.CommonSec)
		case Kernel:
			raw, err = json.Marshal(e.KernelSec)
		case Userspace:
			raw, err = json.Marshal(e.UserspaceSec)
		case Tracking:
			raw, err = json.Marshal(e.TrackingSec)
		case SkbTracking:
			raw, err = json.Marshal(e.SkbTrackSec)
		case SkbDrop:
			raw, err = json.Marshal(e.SkbDropSec)
		case Skb:
			raw, err = json.Marshal(e.SkbSec)
		case Ovs:
			raw, err = json.Marshal(e.OvsSec)
		case Nft:
			raw, err = json.Marshal(e.NftSec)
		case Ct:
			raw, err = json.Marshal(e.CtSec)
		case Startup:
			raw, err = json.Marshal(e.StartupSec)
		}
		if err != nil {
			return nil, fmt.Errorf("marshal section %s: %w", id, err)
		}
		out[id.String()] = raw
	}
	return out, nil
}

// MarshalJSON implements json.Marshaler in terms of ToStructured.
func (e *Event) MarshalJSON() ([]byte, error) {
	m, err := e.ToStructured()
	if err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// FromStructured populates e from the name-keyed JSON object produced by
// ToStructured. An unknown top-level key is an error (spec §6).
func FromStructured(raw map[string]json.RawMessage) (*Event, error) {
	e := Acquire()
	for name, body := range raw {
		id, ok := SectionIdFromString(name)
		if !ok {
			e.Release()
			return nil, fmt.Errorf("unknown section %q in persisted event", name)
		}
		var err error
		switch id {
		case Common:
			var s CommonEvent
			if err = json.Unmarshal(body, &s); err == nil {
				err = e.InsertCommon(s)
			}
		case Kernel:
			var s KernelEvent
			if err = json.Unmarshal(body, &s); err == nil {
				err = e.InsertKernel(s)
			}
		case Userspace:
			var s UserspaceEvent
			if err = json.Unmarshal(body, &s); err == nil {
				err = e.InsertUserspace(s)
			}
		case Tracking:
			var s TrackingEvent
			if err = json.Unmarshal(body, &s); err == nil {
				err = e.InsertTracking(s)
			}
		case SkbTracking:
			var s SkbTrackingEvent
			if err = json.Unmarshal(body, &s); err == nil {
				err = e.InsertSkbTracking(s)
			}
		case SkbDrop:
			var s SkbDropEvent
			if err = json.Unmarshal(body, &s); err == nil {
				err = e.InsertSkbDrop(s)
			}
		case Skb:
			var s SkbEvent
			if err = json.Unmarshal(body, &s); err == nil {
				err = e.InsertSkb(s)
			}
		case Ovs:
			var s OvsEvent
			if err = json.Unmarshal(body, &s); err == nil {
				err = e.InsertOvs(s)
			}
		case Nft:
			var s NftEvent
			if err = json.Unmarshal(body, &s); err == nil {
				err = e.InsertNft(s)
			}
		case Ct:
			var s CtEvent
			if err = json.Unmarshal(body, &s); err == nil {
				err = e.InsertCt(s)
			}
		case Startup:
			var s StartupEvent
			if err = json.Unmarshal(body, &s); err == nil {
				err = e.InsertStartup(s)
			}
		}
		if err != nil {
			e.Release()
			return nil, fmt.Errorf("section %s: %w", name, err)
		}
	}
	return e, nil
}

// UnmarshalJSON implements json.Unmarshaler in terms of FromStructured.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := FromStructured(raw)
	if err != nil {
		return err
	}
	*e = *parsed
	return nil
}
