// Package protocolrunner is a client for the Tezos protocol runner: a
// separate process that executes protocol-specific block validation and
// context operations out of the node's address space.
//
// The client owns four concerns: spawning and supervising the runner child
// process (ChildSupervisor), waiting for the runner's IPC socket to appear
// (SocketWaiter), gating callers on the runner's context-initialized signal
// (ReadinessWatch), and a framed request/response transport to the runner
// once connected (IpcTransport). ProtocolRunnerApi ties the four together;
// Connection exposes the runner's command surface over an established
// transport.
package protocolrunner
