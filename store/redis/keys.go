package redis

// Redis key naming conventions for chrono data.
// All keys are prefixed with "chrono:" to avoid collisions.

const keyPrefix = "chrono:"

// jobKey returns the key for a job entity: chrono:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// nameKey returns the Set key tracking job IDs per name: chrono:name:{name}
func nameKey(name string) string { return keyPrefix + "name:" + name }

// dueKey is the Sorted Set indexing enabled scheduled jobs by their
// next run time in unix milliseconds.
const dueKey = keyPrefix + "due"
