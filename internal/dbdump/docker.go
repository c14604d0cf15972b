package dbdump

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Container is one running docker container carrying a database engine.
type Container struct {
	ID    string
	Name  string
	Image string
	Kind  Kind
}

// ContainerDiscovery is the schema set found inside one container.
type ContainerDiscovery struct {
	Container Container
	Databases []string
	Err       error
}

var safeContainerRe = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// safeContainerName sanitizes a container name for use in dump filenames.
func safeContainerName(name string) string {
	if name == "" {
		return "container"
	}
	return safeContainerRe.ReplaceAllString(name, "_")
}

// ContainerDBID is the qualified identifier container databases carry in
// include/exclude lists: <engine>@<container>/<schema>.
func ContainerDBID(kind Kind, container, schema string) string {
	return kind.String() + "@" + container + "/" + schema
}

// imageKind detects the engine from a container image name.
func imageKind(image string) (Kind, bool) {
	img := strings.ToLower(image)
	if strings.Contains(img, "postgres") {
		return KindPostgres, true
	}
	for _, k := range []string{"mysql", "mariadb", "percona"} {
		if strings.Contains(img, k) {
			return KindMySQL, true
		}
	}
	return 0, false
}

// listContainers returns the running containers whose image looks like a
// supported database engine.
func (e *Engine) listContainers(ctx context.Context) ([]Container, error) {
	out, err := e.run.Output(ctx, nil, "docker",
		"ps", "--format", "{{.ID}}\t{{.Names}}\t{{.Image}}")
	if err != nil {
		return nil, err
	}

	var containers []Container
	for _, line := range strings.Split(string(out), "\n") {
		parts := strings.Split(strings.TrimSpace(line), "\t")
		if len(parts) < 3 {
			continue
		}
		kind, ok := imageKind(parts[2])
		if !ok {
			continue
		}
		containers = append(containers, Container{
			ID:    parts[0],
			Name:  parts[1],
			Image: parts[2],
			Kind:  kind,
		})
	}
	return containers, nil
}

// containerEnv reads a container's environment into a map. Errors collapse
// to an empty map; credential lookup then falls through to passwordless
// candidates.
func (e *Engine) containerEnv(ctx context.Context, container string) map[string]string {
	out, err := e.run.Output(ctx, nil, "docker",
		"inspect", "-f", "{{json .Config.Env}}", container)
	if err != nil {
		return map[string]string{}
	}

	var list []string
	if err := json.Unmarshal(out, &list); err != nil {
		return map[string]string{}
	}

	env := make(map[string]string, len(list))
	for _, item := range list {
		if k, v, ok := strings.Cut(item, "="); ok {
			env[k] = v
		}
	}
	return env
}

type containerCred struct {
	user     string
	password string
}

// mysqlContainerCreds builds the candidate credentials advertised by the
// container's environment, most privileged first, ending with a
// passwordless root attempt.
func mysqlContainerCreds(env map[string]string) []containerCred {
	var creds []containerCred

	if pw := firstEnv(env, "MYSQL_ROOT_PASSWORD", "MARIADB_ROOT_PASSWORD"); pw != "" {
		creds = append(creds, containerCred{user: "root", password: pw})
	}
	user := firstEnv(env, "MYSQL_USER", "MARIADB_USER")
	userPw := firstEnv(env, "MYSQL_PASSWORD", "MARIADB_PASSWORD")
	if user != "" && userPw != "" {
		creds = append(creds, containerCred{user: user, password: userPw})
	}
	creds = append(creds, containerCred{user: "root"})

	seen := map[containerCred]bool{}
	var uniq []containerCred
	for _, c := range creds {
		if seen[c] {
			continue
		}
		seen[c] = true
		uniq = append(uniq, c)
	}
	return uniq
}

func firstEnv(env map[string]string, keys ...string) string {
	for _, k := range keys {
		if env[k] != "" {
			return env[k]
		}
	}
	return ""
}

// mysqlExecArgs builds the docker exec prefix for a credential. The
// password crosses into the container via -e MYSQL_PWD forwarded from the
// docker client's environment, never argv.
func mysqlExecArgs(container string, cred containerCred) ([]string, []string) {
	args := []string{"exec"}
	var env []string
	if cred.password != "" {
		args = append(args, "-e", "MYSQL_PWD")
		env = append(env, "MYSQL_PWD="+cred.password)
	}
	args = append(args, container)
	return args, env
}

func (e *Engine) discoverContainerMySQL(ctx context.Context, c Container) ([]string, error) {
	creds := mysqlContainerCreds(e.containerEnv(ctx, c.Name))

	var lastErr error
	for _, client := range []string{"mariadb", "mysql"} {
		for _, cred := range creds {
			args, env := mysqlExecArgs(c.Name, cred)
			args = append(args, client, "-u", cred.user, "-Nse", "SHOW DATABASES;")

			out, err := e.run.Output(ctx, env, "docker", args...)
			if err == nil {
				return filterSchemas(out, mysqlSystemSchemas), nil
			}
			lastErr = err
		}
	}
	return nil, fmt.Errorf("mysql discovery in container %s failed: %w", c.Name, lastErr)
}

func (e *Engine) discoverContainerPostgres(ctx context.Context, c Container) ([]string, error) {
	query := "SELECT datname FROM pg_database WHERE datistemplate = false;"

	var lastErr error
	for _, user := range []string{"postgres", ""} {
		args := []string{"exec"}
		if user != "" {
			args = append(args, "-u", user)
		}
		args = append(args, c.Name, "psql", "-Atc", query)

		out, err := e.run.Output(ctx, nil, "docker", args...)
		if err == nil {
			return filterSchemas(out, postgresSystemSchemas), nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("postgres discovery in container %s failed: %w", c.Name, lastErr)
}

// discoverContainers lists database containers and the schemas inside
// each. A single container's failure is recorded on its entry; a docker
// level failure (daemon down, binary missing) lands in the returned error.
func (e *Engine) discoverContainers(ctx context.Context) ([]ContainerDiscovery, error) {
	if _, err := e.run.LookPath("docker"); err != nil {
		return nil, fmt.Errorf("docker unavailable: %w", err)
	}

	containers, err := e.listContainers(ctx)
	if err != nil {
		return nil, err
	}

	var out []ContainerDiscovery
	for _, c := range containers {
		cd := ContainerDiscovery{Container: c}
		switch c.Kind {
		case KindMySQL:
			cd.Databases, cd.Err = e.discoverContainerMySQL(ctx, c)
		case KindPostgres:
			cd.Databases, cd.Err = e.discoverContainerPostgres(ctx, c)
		}
		if cd.Err != nil {
			slog.Warn("Container discovery failed", "container", c.Name, "image", c.Image, "error", cd.Err)
		}
		out = append(out, cd)
	}
	return out, nil
}

func (e *Engine) dumpContainerMySQL(ctx context.Context, job *Job) error {
	creds := mysqlContainerCreds(e.containerEnv(ctx, job.Container))
	plain := trimGzExt(job.OutputPath)

	var lastErr error
	for _, tool := range []string{"mariadb-dump", "mysqldump"} {
		for _, cred := range creds {
			args, env := mysqlExecArgs(job.Container, cred)
			args = append(args, tool, "-u", cred.user,
				"--single-transaction",
				"--routines",
				"--events",
				"--triggers",
				"--databases", job.Schema,
			)

			if err := e.run.RunToFile(ctx, env, plain, "docker", args...); err != nil {
				os.Remove(plain)
				lastErr = err
				continue
			}
			return gzipFile(plain, job.OutputPath)
		}
	}
	return fmt.Errorf("mysql dump in container %s failed: %w", job.Container, lastErr)
}

func (e *Engine) dumpContainerPostgres(ctx context.Context, job *Job) error {
	var lastErr error
	for _, user := range []string{"postgres", ""} {
		args := []string{"exec"}
		if user != "" {
			args = append(args, "-u", user)
		}

		if e.pgFormat() == "custom" {
			args = append(args, job.Container, "pg_dump", "-Fc", "-d", job.Schema)
			if err := e.run.RunToFile(ctx, nil, job.OutputPath, "docker", args...); err != nil {
				os.Remove(job.OutputPath)
				lastErr = err
				continue
			}
			return nil
		}

		plain := trimGzExt(job.OutputPath)
		args = append(args, job.Container, "pg_dump", "-d", job.Schema)
		if err := e.run.RunToFile(ctx, nil, plain, "docker", args...); err != nil {
			os.Remove(plain)
			lastErr = err
			continue
		}
		return gzipFile(plain, job.OutputPath)
	}
	return fmt.Errorf("postgres dump in container %s failed: %w", job.Container, lastErr)
}
