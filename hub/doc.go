// Client side of the hub driver session protocol.
//
// A hub runs one driver per attached sensor or actuator. Each driver
// owns four consecutive TCP ports counted from its base port:
//
//	base+0  config     PUSH    one-shot driver configuration
//	base+1  keepalive  REQ     empty ping/pong, detects dead peer
//	base+2  status     SUB ""  liveness and diagnostic records
//	base+3  data       SUB ""  sensor updates, driver-specific schema
//
// Camera frames are published on one well-known port shared by all
// drivers; it is not derived from any base port.
//
// Session owns the transport and exposes the channel operations.
// Channels open at operation start and are released on every exit path,
// never shared between tasks, never held across calls. The keepalive
// loop is the only operation that reports cancellation to its caller;
// configuration and the subscription streams end quietly.
package hub
