package config

import (
	"os"
	"sync"
)

// DockerHostAlias is the name a container uses to reach its host.
const DockerHostAlias = "host.docker.internal"

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker returns true if the process runs inside a Docker container,
// detected by the /.dockerenv marker file. The result is cached.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

// ResolveHostForDocker maps loopback hosts to DockerHostAlias when running in
// Docker so that a datasource on the host machine stays reachable. Other
// hosts are returned unchanged.
func ResolveHostForDocker(host string) string {
	if !IsRunningInDocker() {
		return host
	}

	switch host {
	case "localhost", "127.0.0.1", "::1":
		return DockerHostAlias
	}
	return host
}
