// Package repair is the Auto-Repair Controller (C7): it orchestrates one
// end-to-end repair attempt for a picked execution — download inputs and
// transform scripts, invoke the AI repair agent, upload the patched
// scripts, validate, and either commit (mark solved, delete) or roll back
// and retry, up to a bounded attempt count before marking the execution
// unrecoverable and routing it to the DLQ (SVL scenarios only).
package repair
