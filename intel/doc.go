// Package intel is the heuristic security intelligence layer: it turns
// the forensic audit log into versioned failure baselines and ACTIVE
// threat records.
//
// Detection is statistical, not signature-based: an IP is flagged for
// BRUTE_FORCE when its failure volume exceeds the baseline by a
// configured number of standard deviations and an absolute floor, and
// for CREDENTIAL_STUFFING when its failures spread across enough
// distinct accounts. All of it runs as a scheduled sweep that reads an
// eventually-consistent view of the log and never blocks audit writes.
package intel
