// Package crawler holds the shared domain types of the archiver together with
// the Frontier, the breadth-first, domain-scoped and depth-bounded link
// traversal that seeds every pipeline run.
package crawler
