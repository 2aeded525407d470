package seriallink

// Handler receives dispatched device responses. Callbacks run on the reader
// goroutine and must not block for long.
type Handler interface {
	OnStatus(st DeviceStatus)
	OnTRNG(frame []byte)
	OnTRNGState(state string)
	OnVersion(banner string)
	OnText(line string)
	OnError(err error)
}

// NopHandler ignores everything. Embed it to implement part of Handler.
type NopHandler struct{}

func (NopHandler) OnStatus(DeviceStatus) {}
func (NopHandler) OnTRNG([]byte)         {}
func (NopHandler) OnTRNGState(string)    {}
func (NopHandler) OnVersion(string)      {}
func (NopHandler) OnText(string)         {}
func (NopHandler) OnError(error)         {}
