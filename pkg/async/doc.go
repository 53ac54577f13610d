// Package async provides background execution helpers with panic recovery
// and bounded lifetimes.
//
// SafeGo runs a fire-and-forget task with a timeout. Batch runs a function
// over a slice with limited parallelism and collects every error. Tracker
// runs jobs detached from the HTTP request that started them and keeps
// their outcome queryable by ID for a while.
package async
