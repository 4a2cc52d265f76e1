// Command medscribe is the command-line front end for the MedScribe daemon.
// It submits recordings and transcripts, inspects and cancels jobs, streams
// progress, and runs the daemon itself with `medscribe serve`.
package main
