/*
Package packages classifies the modules a snippet needs and loads them into
the guest runtime exactly once.

Two catalogues are consulted: the runtime's own native catalogue (queried
lazily through ports.NativeIndex) and a static catalogue of externally
installable packages, each with a locator and its declared dependencies.
A name present in both is native. Unknown names are dropped: they are either
stdlib-like builtins of the guest or user modules staged on the search path.

The Loader keeps the Loaded-Set. Names are marked loaded before their install
starts, so overlapping requests never install a package twice; a caller that
finds a name still installing waits for that install instead.
*/
package packages
