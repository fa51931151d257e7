// Package testutil provides testing utilities for KeraDB.
//
// This package is intended for use in tests and benchmarks only.
// It provides helpers for generating random vectors, computing exact
// nearest neighbors, and verifying search recall.
//
// # Random Vector Generation
//
//	rng := testutil.NewRNG(seed)
//	vec := make([]float32, 128)
//	rng.FillUniform(vec)      // uniform [0, 1)
//	vecs := rng.UnitVectors(1000, 128)
//	drift := rng.DriftVectors(100, 128, 0.1, 0.01) // sparse changes, compress well
//
// # Exact Search (Ground Truth)
//
//	results := testutil.BruteForceSearch(dataset, query, k, distance.Euclidean, 1)
//
// # Recall Verification
//
//	recall := testutil.ComputeRecall(exactResults, approxResults)
package testutil
