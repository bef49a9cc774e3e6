// Package target defines the operations run against the target service.
//
// The session controller knows nothing about the service's request
// semantics. It hands an Operation the Egress it should use, and classifies
// the returned Response and error.
package target
