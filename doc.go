/*
go-pcienpu drives an FPGA based NPU from the host over a PCIe register window.

The accelerator exposes one page of 32-bit registers.  Every operation writes
a four word command header (opcode, address, immediate, length) to registers
0-3 and then streams its payload through the registers that follow.  A Session
wraps the four operations the accelerator understands: LoadModel, LoadInput,
RunInference and GetResult.

A Loop ties a Session to a frame source, such as the gocv camera in the capture
subdirectory, and runs capture, upload, run, retrieve and consume cycles at a
fixed pace until its context is cancelled.

See example code and usage in the example subdirectory.
*/
package pcienpu
