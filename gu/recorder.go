package gu

// CommandOp identifies one recorded hardware command.
type CommandOp string

const (
	OpSetDrawBuffer           CommandOp = "SetDrawBuffer"
	OpSetDisplayBuffer        CommandOp = "SetDisplayBuffer"
	OpSetTexture              CommandOp = "SetTexture"
	OpEnableStencilAlphaHack  CommandOp = "EnableStencilAlphaHack"
	OpDisableStencilAlphaHack CommandOp = "DisableStencilAlphaHack"
	OpFlushCacheRange         CommandOp = "FlushCacheRange"
	OpWaitVblankStart         CommandOp = "WaitVblankStart"
)

// Command is one hardware command captured by a Recorder. Only the fields
// relevant to the recorded op are populated.
type Command struct {
	Op       CommandOp
	Format   PixelFormat
	Offset   int
	Stride   int
	Width    int
	Height   int
	Swizzled bool
	Bytes    int
}

// Recorder is a CommandSink that captures every issued command in order. It
// stands in for the hardware in tests and headless environments.
type Recorder struct {
	commands []Command
}

var _ CommandSink = &Recorder{}

func (r *Recorder) SetDrawBuffer(format PixelFormat, offset int, stride int) {
	r.commands = append(r.commands, Command{Op: OpSetDrawBuffer, Format: format, Offset: offset, Stride: stride})
}

func (r *Recorder) SetDisplayBuffer(offset int, stride int) {
	r.commands = append(r.commands, Command{Op: OpSetDisplayBuffer, Offset: offset, Stride: stride})
}

func (r *Recorder) SetTexture(format PixelFormat, width, height, stride int, swizzled bool, data []byte) {
	r.commands = append(r.commands, Command{
		Op:       OpSetTexture,
		Format:   format,
		Width:    width,
		Height:   height,
		Stride:   stride,
		Swizzled: swizzled,
		Bytes:    len(data),
	})
}

func (r *Recorder) EnableStencilAlphaHack() {
	r.commands = append(r.commands, Command{Op: OpEnableStencilAlphaHack})
}

func (r *Recorder) DisableStencilAlphaHack() {
	r.commands = append(r.commands, Command{Op: OpDisableStencilAlphaHack})
}

func (r *Recorder) FlushCacheRange(data []byte) {
	r.commands = append(r.commands, Command{Op: OpFlushCacheRange, Bytes: len(data)})
}

func (r *Recorder) WaitVblankStart() {
	r.commands = append(r.commands, Command{Op: OpWaitVblankStart})
}

// Commands returns every command recorded since the last Reset, in issue order.
func (r *Recorder) Commands() []Command {
	return r.commands
}

// Reset discards all recorded commands.
func (r *Recorder) Reset() {
	r.commands = r.commands[:0]
}
