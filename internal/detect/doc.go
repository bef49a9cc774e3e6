// Package detect classifies the outcome of one target-service interaction.
//
// A Detector turns a response and error pair into a model.BlockVerdict:
// Blocked when any configured Matcher recognizes a block signature,
// TransientError for network and timeout failures, and Ok for everything
// else. Block signatures are injected so new ones can be added without
// touching the session logic.
package detect
