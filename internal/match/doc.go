// Package match provides the string similarity primitives used to map
// spreadsheet headers onto canonical fields and to score entity keys
// against each other.
//
// All functions are pure and allocation-light; none of them touch shared
// state, so they are safe to call from many goroutines at once.
//
// The scoring model:
//
//   - Normalize case-folds, strips diacritics, and collapses punctuation and
//     whitespace into single spaces.
//   - Similarity is the normalized Levenshtein similarity in [0, 1].
//   - TokenOverlap is the Dice coefficient over normalized tokens.
//   - Cosine compares embedding vectors.
package match
