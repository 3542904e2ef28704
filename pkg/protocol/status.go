package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ConnStatus describes one registered connection.
type ConnStatus struct {
	ID         string
	Transport  string
	RemoteAddr string
}

// Status is a point-in-time view of the broadcast registry and relay
// counters.
type Status struct {
	Connections []ConnStatus
	Counters    map[string]int64
}

// MarshalProto encodes the status as a protobuf google.protobuf.Struct.
func (s Status) MarshalProto() ([]byte, error) {
	pb, err := s.toProto()
	if err != nil {
		return nil, err
	}
	data, err := proto.Marshal(pb)
	if err != nil {
		return nil, fmt.Errorf("failed to encode status: %w", err)
	}
	return data, nil
}

// MarshalJSON encodes the status with the protobuf JSON mapping.
func (s Status) MarshalJSON() ([]byte, error) {
	pb, err := s.toProto()
	if err != nil {
		return nil, err
	}
	data, err := protojson.Marshal(pb)
	if err != nil {
		return nil, fmt.Errorf("failed to encode status: %w", err)
	}
	return data, nil
}

// DecodeStatus decodes a status produced by MarshalProto.
func DecodeStatus(data []byte) (Status, error) {
	pb := &structpb.Struct{}
	if err := proto.Unmarshal(data, pb); err != nil {
		return Status{}, fmt.Errorf("failed to decode status: %w", err)
	}
	return statusFromProto(pb), nil
}

// toProto converts the Status to a protobuf Struct.
func (s Status) toProto() (*structpb.Struct, error) {
	conns := make([]any, 0, len(s.Connections))
	for _, c := range s.Connections {
		conns = append(conns, map[string]any{
			"id":         c.ID,
			"transport":  c.Transport,
			"remoteAddr": c.RemoteAddr,
		})
	}
	counters := make(map[string]any, len(s.Counters))
	for k, v := range s.Counters {
		counters[k] = v
	}
	pb, err := structpb.NewStruct(map[string]any{
		"connections": conns,
		"counters":    counters,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build status: %w", err)
	}
	return pb, nil
}

// statusFromProto populates a Status from a protobuf Struct. Unknown or
// mistyped fields are skipped.
func statusFromProto(pb *structpb.Struct) Status {
	var s Status
	for _, v := range pb.GetFields()["connections"].GetListValue().GetValues() {
		f := v.GetStructValue().GetFields()
		s.Connections = append(s.Connections, ConnStatus{
			ID:         f["id"].GetStringValue(),
			Transport:  f["transport"].GetStringValue(),
			RemoteAddr: f["remoteAddr"].GetStringValue(),
		})
	}
	counters := pb.GetFields()["counters"].GetStructValue().GetFields()
	if len(counters) > 0 {
		s.Counters = make(map[string]int64, len(counters))
		for k, v := range counters {
			s.Counters[k] = int64(v.GetNumberValue())
		}
	}
	return s
}
