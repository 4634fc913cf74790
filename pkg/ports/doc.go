/*
Package ports defines the driven ports (interfaces) of the Basthon kernel.

These interfaces decouple the kernel from the guest language runtime and from
the host's storage, so the orchestration logic can be tested with fakes and the
runtime can be swapped.

# Key Interfaces

  - Interpreter: creates evaluation namespaces and exposes the guest output channels.
  - Namespace / Value: one evaluation environment and the values it produces.
  - Installer / NativeIndex: the runtime's package primitives.
  - ImportScanner: static discovery of the modules a snippet imports.
  - FileSystem: the guest-visible filesystem and module search path.
  - BackupStore: the simple key/value backup used by hosts.
*/
package ports
