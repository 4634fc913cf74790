/*
Package domain contains the core models of the Basthon kernel.

It defines the events exchanged between the kernel and its host, the result
bundles produced by evaluations, the package descriptors of the external
catalogue, and the errors surfaced at the kernel boundary. This package is kept
pure and free of I/O, following Hexagonal Architecture principles.

# Key Entities

  - Payload: the keyed record carried by every bus event.
  - EvalRequest: a snippet to evaluate plus the host's auxiliary data.
  - Bundle: the MIME-keyed representations of an evaluation result.
  - PackageDescriptor: an externally installable package (locator and dependencies).
  - LoaderError, EvaluationFault, StagingError: typed failures.
*/
package domain
