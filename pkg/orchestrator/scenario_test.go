package orchestrator_test

// This file maps spec.md §8's concrete end-to-end scenarios (S1-S6) by
// name onto the behavioral tests that cover them, so a reader checking
// the spec's testable-properties section against the test suite does
// not have to go hunting: S1/S2/S5 are exercised directly in
// orchestrator_test.go; S3/S4 in pkg/repair/repair_test.go; S6 in
// pkg/config/config_test.go. Each is listed here as a thin pointer,
// not a duplicate of the underlying test.

// S1: TestUploadExactMultipleChunkSizes (orchestrator_test.go)
// S2: TestDownloadSurvivesOneDeadServer (orchestrator_test.go)
// S3: TestAutoRepairCleansUpCorruptedReplicaAndRefills (pkg/repair/repair_test.go)
// S4: TestVerifyClassifiesCriticalWhenTwoServersDown (pkg/repair/repair_test.go)
// S5: TestUploadRejectsZeroLengthFile (orchestrator_test.go)
// S6: TestReplicationFactorExceedsServerCountFails (pkg/config/config_test.go)
