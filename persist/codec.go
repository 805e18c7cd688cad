package persist

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/conveyorhq/conveyor/job"
)

// Codec defines the serialization contract for mirrored jobs.
type Codec interface {
	// Encode serializes a job to bytes.
	Encode(j *job.QueuedJob) ([]byte, error)

	// Decode deserializes bytes into a job.
	Decode(data []byte) (*job.QueuedJob, error)

	// Name returns the codec identifier (e.g., "json", "msgpack").
	Name() string
}

// CodecName constants for configuration.
const (
	CodecNameJSON    = "json"
	CodecNameMsgpack = "msgpack"
)

// GetCodec returns a codec by name. Defaults to JSON.
func GetCodec(name string) Codec {
	switch name {
	case CodecNameMsgpack:
		return &MsgpackCodec{}
	case CodecNameJSON, "":
		return &JSONCodec{}
	default:
		return &JSONCodec{}
	}
}

// JSONCodec encodes/decodes jobs as JSON.
type JSONCodec struct{}

func (c *JSONCodec) Encode(j *job.QueuedJob) ([]byte, error) {
	return json.Marshal(j)
}

func (c *JSONCodec) Decode(data []byte) (*job.QueuedJob, error) {
	var j job.QueuedJob
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

func (c *JSONCodec) Name() string { return CodecNameJSON }

// MsgpackCodec encodes/decodes jobs as MessagePack. Denser than JSON,
// useful when the mirror holds large payloads.
type MsgpackCodec struct{}

func (c *MsgpackCodec) Encode(j *job.QueuedJob) ([]byte, error) {
	return msgpack.Marshal(j)
}

func (c *MsgpackCodec) Decode(data []byte) (*job.QueuedJob, error) {
	var j job.QueuedJob
	if err := msgpack.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

func (c *MsgpackCodec) Name() string { return CodecNameMsgpack }
