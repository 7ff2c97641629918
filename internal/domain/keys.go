package domain

// KeyPrefix namespaces every key memex writes into a shared Redis keyspace.
const KeyPrefix = "memex:"
