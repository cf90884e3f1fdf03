// Package mongo implements the job and artifact stores on MongoDB.
//
// Jobs live in one collection keyed by their UUID string. Claims use a single
// FindOneAndUpdate sorted by priority and queue time, and every post-claim
// write filters on the claim fence (status, node and attempt) so a reclaimed
// job rejects late writes from its previous owner.
package mongo
