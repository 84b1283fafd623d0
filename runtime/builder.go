package runtime

import "encoding/json"

type EngineType string

const (
	EngineGgml    EngineType = "ggml"
	EngineWhisper EngineType = "whisper"
)

type Device string

const (
	DeviceCPU  Device = "cpu"
	DeviceGPU  Device = "gpu"
	DeviceTPU  Device = "tpu"
	DeviceAuto Device = "auto"
)

// GraphBuilder constructs execution contexts from model weights. The
// concrete builder is supplied by the plugin host at startup; tests
// inject one backed by runtimetest.Fake.
type GraphBuilder interface {
	BuildFromFiles(engine EngineType, device Device, config json.RawMessage, files ...string) (TensorRuntime, error)
	BuildFromBuffer(engine EngineType, device Device, config json.RawMessage, buffer []byte) (TensorRuntime, error)
	BuildFromCache(engine EngineType, device Device, config json.RawMessage, alias string) (TensorRuntime, error)
}
