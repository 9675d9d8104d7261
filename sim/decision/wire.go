// Package decision speaks the decision-service protocol: a JSON array of per-agent
// sensor snapshots goes out, a JSON array of per-agent actions comes back.
package decision

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/inference-sim/stacksim/sim"
)

var (
	// ErrTransport covers connection, protocol and body read failures.
	ErrTransport = errors.New("decision transport failure")
	// ErrStatus is returned for non-200 responses.
	ErrStatus = errors.New("decision service returned an error status")
	// ErrMalformedResponse covers schema, parse and agent-set failures.
	ErrMalformedResponse = errors.New("malformed decision response")
	// ErrMalformedRequest is the server-side twin of ErrMalformedResponse.
	ErrMalformedRequest = errors.New("malformed decision request")
)

// PositionData is one agent's entry in a decision request. Position maps a direction
// character to an occupancy code.
type PositionData struct {
	ID       int            `json:"id"`
	Position map[string]int `json:"position"`
}

// ActionRecord is one agent's entry in a decision response. Direction is empty for "W".
type ActionRecord struct {
	ID        int    `json:"id"`
	Action    string `json:"action"`
	Direction string `json:"direction,omitempty"`
}

// wireAction is ActionRecord as received: the direction of a "W" may be anything.
type wireAction struct {
	ID        int             `json:"id"`
	Action    string          `json:"action"`
	Direction json.RawMessage `json:"direction"`
}

// EncodePerceptions converts perceptions to wire records, preserving order.
func EncodePerceptions(perceptions []sim.Perception) []PositionData {
	out := make([]PositionData, len(perceptions))
	for i, p := range perceptions {
		pos := make(map[string]int, sim.NumDirections)
		for _, d := range sim.Directions {
			pos[d.String()] = int(p.Sensors[d])
		}
		out[i] = PositionData{ID: p.ID, Position: pos}
	}
	return out
}

// DecodePerceptions is the inverse of EncodePerceptions. Missing directions read as
// empty.
func DecodePerceptions(records []PositionData) ([]sim.Perception, error) {
	out := make([]sim.Perception, len(records))
	for i, r := range records {
		sensors := make(sim.SensorMap, sim.NumDirections)
		for _, d := range sim.Directions {
			sensors[d] = sim.OccupancyNone
		}
		for k, v := range r.Position {
			d, err := sim.ParseDirection(k)
			if err != nil {
				return nil, fmt.Errorf("%w: agent %d: %v", ErrMalformedRequest, r.ID, err)
			}
			code := sim.OccupancyCode(v)
			if !code.Valid() {
				return nil, fmt.Errorf("%w: agent %d: occupancy %d", ErrMalformedRequest, r.ID, v)
			}
			sensors[d] = code
		}
		out[i] = sim.Perception{ID: r.ID, Sensors: sensors}
	}
	return out, nil
}

// EncodeCommands converts commands to wire records, preserving order.
func EncodeCommands(commands []sim.Command) []ActionRecord {
	out := make([]ActionRecord, len(commands))
	for i, c := range commands {
		r := ActionRecord{ID: c.ID, Action: string(rune(c.Action.Kind))}
		if c.Action.Kind != sim.ActionWait {
			r.Direction = c.Action.Direction.String()
		}
		out[i] = r
	}
	return out
}

// DecodeCommands parses wire records into commands.
func DecodeCommands(records []ActionRecord) ([]sim.Command, error) {
	out := make([]sim.Command, len(records))
	for i, r := range records {
		act, err := sim.ParseAction(r.Action, r.Direction)
		if err != nil {
			return nil, fmt.Errorf("%w: agent %d: %v", ErrMalformedResponse, r.ID, err)
		}
		out[i] = sim.Command{ID: r.ID, Action: act}
	}
	return out, nil
}

// ParseResponse validates raw against the response schema, decodes it and checks that
// it names exactly the perceived agents.
func ParseResponse(raw []byte, perceptions []sim.Perception) ([]sim.Command, error) {
	if err := validate(responseSchema(), raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	var wire []wireAction
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	records := make([]ActionRecord, len(wire))
	for i, w := range wire {
		records[i] = ActionRecord{ID: w.ID, Action: w.Action}
		if w.Action == string(rune(sim.ActionWait)) || len(w.Direction) == 0 {
			continue
		}
		if err := json.Unmarshal(w.Direction, &records[i].Direction); err != nil {
			return nil, fmt.Errorf("%w: agent %d: direction: %v", ErrMalformedResponse, w.ID, err)
		}
	}
	commands, err := DecodeCommands(records)
	if err != nil {
		return nil, err
	}
	if err := sim.MatchCommands(perceptions, commands); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return commands, nil
}

// ParseRequest validates raw against the request schema and decodes it.
func ParseRequest(raw []byte) ([]sim.Perception, error) {
	if err := validate(requestSchema(), raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	var records []PositionData
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	return DecodePerceptions(records)
}
