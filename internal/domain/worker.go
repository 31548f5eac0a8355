package domain

// WorkerRegistryPrefix is the etcd prefix under which downloader workers
// register their presence.
const WorkerRegistryPrefix = "/minutebars/workers/"
