// Package breachvip wraps the breach.vip search API.
//
// A Client turns loosely-typed LookupRequests into canonical SearchPayloads,
// paces every HTTP attempt through a shared Limiter, retries connection
// failures and HTTP 429 responses according to a RetryPolicy, and normalizes
// the heterogeneous result array into ResultItems. Runner drives a whole batch
// through that pipeline in input order and records one ItemOutcome per input,
// so a failing item is skipped instead of aborting the batch.
package breachvip
