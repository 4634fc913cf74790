/*
Package goja is the guest runtime of the kernel: an embedded JavaScript
interpreter (github.com/dop251/goja) behind the kernel ports.

A Runtime plays the part of the guest process. It owns the guest filesystem
(a host directory), the module search path, the enabled native packages and
the installed external packages, and it survives kernel restarts. Every
Namespace is a fresh interpreter VM over that process.

Modules are CommonJS: require(name) resolves, in order, an enabled native
package, a module on the search path (<dir>/<name>.js or
<dir>/<name>/index.js), then an installed external package
(/site-packages/<name>/index.js).
*/
package goja
