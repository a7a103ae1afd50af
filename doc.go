// Package framelifecycle manages the lifecycle of camera capture requests.
//
// # Overview
//
// A camera owns a fixed pool of frame buffers. Each buffer is attached to
// a capture request that cycles between the hardware and the application:
//
//	queued -> completed -> (displayed) -> released -> recycled -> queued
//
// The engine drains completed requests, keeps only the newest one as the
// display candidate, copies its display buffer into a Frame for the output
// pipeline and returns every request to the hardware as soon as its last
// reference is dropped. Requests are reference counted: the engine holds
// one reference from completion, a display consumer may hold another via
// AcquireCurrent.
//
// # Basic Usage
//
//	cam, _ := framelifecycle.NewSimulatedCamera(framelifecycle.SimOptions{FPS: 30})
//	out, _ := framelifecycle.NewOutput(8)
//	out.Start(ctx)
//	defer out.Stop()
//
//	eng, _ := framelifecycle.New(cam, cam, out)
//	defer eng.Close()
//
//	cfg := framelifecycle.PreviewConfig(framelifecycle.Size{Width: 640, Height: 480}, 30, "")
//	if err := eng.Configure(cfg); err != nil { ... }
//	if err := eng.Start(); err != nil { ... }
//
//	frames := out.SubscribeLatest("viewer")
//	f, ok := frames.Receive()
//
// # Generations
//
// Every Configure and every Stop starts a new generation. A request
// released after its generation ended is discarded instead of re-queued, so
// consumers that hold a frame across Stop never feed stale buffers back to
// the hardware.
//
// # Controls
//
// SetControls stages control values. They are attached to the next request
// that is recycled, and cleared once it is queued. Later values for the
// same control overwrite earlier ones.
//
// # Thread Safety
//
// Lifecycle operations (Configure, Start, Stop, Close) are serialized.
// Release, SetControls, AcquireCurrent and Stats may be called from any
// goroutine.
package framelifecycle
