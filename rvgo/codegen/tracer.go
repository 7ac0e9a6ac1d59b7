package codegen

// tracer records the registers and helpers referenced by the emitted body.
type tracer struct {
	gpRead    uint32
	gpWritten uint32
	fpRead    uint32
	fpWritten uint32
	helpers   uint32
}

func (t *tracer) reset() {
	*t = tracer{}
}

func (t *tracer) gpTouched() uint32 { return t.gpRead | t.gpWritten }
func (t *tracer) fpTouched() uint32 { return t.fpRead | t.fpWritten }

func (t *tracer) use(h helper) {
	t.helpers |= 1 << h
}
