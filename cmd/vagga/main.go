// Command vagga builds and runs per-project development containers:
// `vagga <name>` looks a command up in the project's vagga.yaml,
// builds its container if stale, and execs it inside a sandbox; the
// underscore-prefixed commands (`_build`, `_run`, `_version_hash`, ...)
// are the lower-level building blocks the plain form composes.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"

	"github.com/alecthomas/kong"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/tarball"

	"github.com/vagga-go/vagga/internal/builder"
	"github.com/vagga-go/vagga/internal/buildstep"
	"github.com/vagga-go/vagga/internal/idmap"
	"github.com/vagga-go/vagga/internal/netns"
	"github.com/vagga-go/vagga/internal/ociexport"
	"github.com/vagga-go/vagga/internal/runengine"
	"github.com/vagga-go/vagga/internal/sandbox"
	"github.com/vagga-go/vagga/internal/settings"
	"github.com/vagga-go/vagga/internal/store"
	"github.com/vagga-go/vagga/internal/supervisor"
	"github.com/vagga-go/vagga/internal/vaggayaml"
	"github.com/vagga-go/vagga/internal/version"
)

// Exit codes match spec.md §6's CLI surface table.
const (
	exitSuccess      = 0
	exitWrapperError = 124
	exitConfigError  = 126
	exitUnknownCmd   = 127
	exitVersionNew   = 29
)

// CLI is the set of debug/builtin commands, each a direct analogue of
// the original wrapper's underscore-prefixed subcommands.
type CLI struct {
	Build        BuildCmd        `cmd:"_build" help:"Build a container"`
	Run          RunCmd          `cmd:"_run" help:"Run an arbitrary command in a container"`
	VersionHash  VersionHashCmd  `cmd:"_version_hash" help:"Print a container's version hash"`
	Clean        CleanCmd        `cmd:"_clean" help:"Garbage-collect stored containers"`
	List         ListCmd         `cmd:"_list" help:"List configured commands"`
	Dedup        DedupCmd        `cmd:"_dedup" help:"Hardlink identical files across stored containers"`
	CreateNetns  CreateNetnsCmd  `cmd:"_create_netns" help:"Create the gateway network namespace"`
	DestroyNetns DestroyNetnsCmd `cmd:"_destroy_netns" help:"Destroy the gateway network namespace"`
	Merge        MergeCmd        `cmd:"_merge" help:"Merge small layers in an exported OCI image tarball"`
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "vagga: no command given")
		os.Exit(exitConfigError)
	}

	if args[0] == "_enter_sandbox" {
		if err := sandbox.EnterAndExec(args[1:]); err != nil {
			fmt.Fprintln(os.Stderr, "vagga:", err)
			os.Exit(exitWrapperError)
		}
		return
	}

	if args[0] == "_netns_helper" {
		if err := netns.RunGatewayHelper(); err != nil {
			fmt.Fprintln(os.Stderr, "vagga:", err)
			os.Exit(exitWrapperError)
		}
		return
	}

	if len(args[0]) > 0 && args[0][0] == '_' {
		runBuiltin(args)
		return
	}

	os.Exit(runConfiguredCommand(args[0], args[1:]))
}

func runBuiltin(args []string) {
	var cli CLI
	parser, err := kong.New(&cli, kong.Name("vagga"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitWrapperError)
	}
	ctx, err := parser.Parse(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(122)
	}
	if err := ctx.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "vagga:", err)
		os.Exit(exitWrapperError)
	}
}

// projectEnv bundles the state every subcommand needs: the parsed
// project config, the content-addressed store rooted at the
// project's storage directory, and the layered user settings.
type projectEnv struct {
	cfg   *vaggayaml.Config
	store *store.Store
	set   *settings.Resolved
	root  string
}

func loadProject() (*projectEnv, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg, err := vaggayaml.Load(wd + "/vagga.yaml")
	if err != nil {
		return nil, err
	}
	resolved, err := settings.Resolve()
	if err != nil {
		return nil, err
	}
	return &projectEnv{
		cfg:   cfg,
		store: store.New(wd + "/" + resolved.StorageDir),
		set:   resolved,
		root:  wd,
	}, nil
}

func (p *projectEnv) buildContainer(name string, force bool) (*builder.Result, error) {
	return builder.New(p.store).BuildWithDependencies(name, p.loadContainer, force)
}

// loadContainer resolves a single container's definition from the
// project's vagga.yaml, the load callback internal/builder's
// dependency resolver uses to walk "Container" step references.
func (p *projectEnv) loadContainer(name string) (*version.Container, error) {
	contYAML, err := p.cfg.Container(name)
	if err != nil {
		return nil, err
	}
	return builder.ContainerFromYAML(name, contYAML, p.root)
}

// BuildCmd is `vagga _build <container>`.
type BuildCmd struct {
	Container string `arg:"" help:"Container to build"`
	Force     bool   `help:"Rebuild even if a cached version exists"`
	Export    string `help:"Also package the built root as a single-layer OCI image tarball at this path"`
	Tag       string `help:"Image reference to tag the export with (defaults to <container>:<short-hash>)"`
}

func (c *BuildCmd) Run() error {
	env, err := loadProject()
	if err != nil {
		return err
	}
	res, err := env.buildContainer(c.Container, c.Force)
	if err != nil {
		return err
	}
	fmt.Printf("Container %s built as %s\n", res.Name, res.RootFS)

	if c.Export != "" {
		tag := c.Tag
		if tag == "" {
			tag = fmt.Sprintf("%s:%s", res.Name, res.Hash)
		}
		if err := ociexport.ExportRoot(res.RootFS, c.Export, tag); err != nil {
			return fmt.Errorf("exporting %s as OCI image: %w", res.Name, err)
		}
		fmt.Printf("Exported %s to %s\n", tag, c.Export)
	}
	return nil
}

// RunCmd is `vagga _run <container> <cmd> [args...]`.
type RunCmd struct {
	Container string   `arg:"" help:"Container to run the command in"`
	Cmd       []string `arg:"" optional:"" help:"Command and arguments"`
}

func (c *RunCmd) Run() error {
	env, err := loadProject()
	if err != nil {
		return err
	}
	res, err := env.buildContainer(c.Container, false)
	if err != nil {
		return err
	}
	if len(c.Cmd) == 0 {
		c.Cmd = []string{"/bin/sh"}
	}
	cont, err := env.loadContainer(c.Container)
	if err != nil {
		return err
	}
	return env.execInContainer(res, cont, c.Cmd, "", nil)
}

// VersionHashCmd is `vagga _version_hash <container>`, printing the
// hash to fd 3 the way the original reserves a side channel for
// scripts composing vagga invocations.
type VersionHashCmd struct {
	Container string `arg:"" help:"Container to hash"`
	Debug     bool   `help:"Print the full digest transition log to stderr"`
}

func (c *VersionHashCmd) Run() error {
	env, err := loadProject()
	if err != nil {
		return err
	}
	cont, err := env.loadContainer(c.Container)
	if err != nil {
		return err
	}

	var hash string
	if c.Debug {
		var log string
		hash, log, err = version.Debug(cont)
		if err == nil {
			fmt.Fprintln(os.Stderr, log)
		}
	} else {
		hash, err = version.Long(cont)
	}
	if err != nil {
		var notFound *version.ErrContainerNotFound
		var notReady *buildstep.ErrNotReady
		if errors.As(err, &notFound) || errors.As(err, &notReady) {
			os.Exit(exitVersionNew)
		}
		return err
	}

	fd3 := os.NewFile(3, "fd3")
	if _, statErr := fd3.Stat(); statErr == nil {
		fmt.Fprintln(fd3, hash)
		fd3.Close()
	} else {
		fmt.Println(hash)
	}
	return nil
}

// CleanCmd is `vagga _clean`.
type CleanCmd struct {
	Container string   `help:"Remove every version of a named container"`
	Tmp       bool     `help:"Remove interrupted build leftovers"`
	Old       bool     `help:"Remove every stored version not currently pointed at"`
	Transient bool     `help:"Remove leftover transient run copies"`
	Unused    bool     `help:"Remove versions not referenced by this or any listed project"`
	Global    []string `help:"Other project directories to consider when using --unused"`
	DryRun    bool     `short:"n" help:"Report what would be removed without removing it"`
}

func (c *CleanCmd) Run() error {
	env, err := loadProject()
	if err != nil {
		return err
	}

	var mode store.CleanMode
	switch {
	case c.Container != "":
		mode = store.CleanContainer
	case c.Tmp:
		mode = store.CleanTmp
	case c.Old:
		mode = store.CleanOld
	case c.Transient:
		mode = store.CleanTransient
	case c.Unused:
		mode = store.CleanUnused
	default:
		return fmt.Errorf("specify one of --container, --tmp, --old, --transient, or --unused")
	}
	removed, err := env.store.Clean(mode, c.Container, c.Global, c.DryRun)
	if err != nil {
		return err
	}

	verb := "removed"
	if c.DryRun {
		verb = "would remove"
	}
	for _, name := range removed {
		fmt.Printf("%s: %s\n", verb, name)
	}
	if len(removed) == 0 {
		fmt.Println("nothing to clean")
	}
	return nil
}

// ListCmd is `vagga _list`.
type ListCmd struct {
	All bool `name:"hidden" short:"A" help:"Include underscore-prefixed debug commands"`
}

func (c *ListCmd) Run() error {
	env, err := loadProject()
	if err != nil {
		return err
	}
	for name, cmd := range env.cfg.Commands {
		if !c.All && len(name) > 0 && name[0] == '_' {
			continue
		}
		if cmd.Description != "" {
			fmt.Printf("%-20s %s\n", name, cmd.Description)
		} else {
			fmt.Println(name)
		}
	}
	return nil
}

// DedupCmd is `vagga _dedup`.
type DedupCmd struct{}

func (c *DedupCmd) Run() error {
	env, err := loadProject()
	if err != nil {
		return err
	}
	roots, err := allRootDirs(env.store)
	if err != nil {
		return err
	}
	linked, reclaimed, err := builder.DedupFiles(roots)
	if err != nil {
		return err
	}
	fmt.Printf("Linked %d files, reclaimed %d bytes\n", linked, reclaimed)
	return nil
}

func allRootDirs(s *store.Store) ([]string, error) {
	entries, err := os.ReadDir(s.Root + "/.roots")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, s.Root+"/.roots/"+e.Name()+"/root")
		}
	}
	return dirs, nil
}

// CreateNetnsCmd is `vagga _create_netns`: spawns the gateway helper
// (a re-exec of this binary under "_netns_helper"), wires its veth end
// into the bridge, and pins the resulting namespaces at well-known
// paths under the runtime dir so later `vagga run`s can join them
// (spec.md §4.K, original_source's launcher/network.rs create_netns).
type CreateNetnsCmd struct {
	NoIPTables bool `help:"Skip the MASQUERADE rule; the host firewall must be configured manually"`
}

func (c *CreateNetnsCmd) Run() error {
	runtimeDir := netns.RuntimeDir(os.Geteuid())
	paths := netns.NewPaths(runtimeDir)
	if paths.AlreadyCreated() {
		return fmt.Errorf("gateway namespace already exists at %s", paths.NetNS)
	}
	if err := os.MkdirAll(runtimeDir, 0755); err != nil {
		return err
	}

	self, err := os.Executable()
	if err != nil {
		return err
	}
	helper, sync, err := netns.SpawnGatewayHelper(self)
	if err != nil {
		return err
	}
	pid := helper.Process.Pid

	bridge := netns.DefaultBridge()
	if err := netns.CreateVethPair(bridge.Interface, "vagga_guest", fmt.Sprint(pid)); err != nil {
		return fmt.Errorf("wiring veth pair: %w", err)
	}
	if err := netns.ConfigureHostSide(bridge.Interface, bridge); err != nil {
		return fmt.Errorf("configuring host side: %w", err)
	}
	if !c.NoIPTables {
		if err := netns.EnableMasquerade(netns.DefaultRouteInterface()); err != nil {
			return fmt.Errorf("enabling masquerade: %w", err)
		}
	}

	netnsFile, err := os.Create(paths.NetNS)
	if err != nil {
		return fmt.Errorf("creating netns file: %w", err)
	}
	netnsFile.Close()
	usernsFile, err := os.Create(paths.UserNS)
	if err != nil {
		return fmt.Errorf("creating userns file: %w", err)
	}
	usernsFile.Close()

	if err := netns.BindMountNetNS(pid, paths.NetNS); err != nil {
		return err
	}
	if err := netns.BindMountUserNS(pid, paths.UserNS); err != nil {
		return err
	}

	sync.Close()
	if err := helper.Wait(); err != nil {
		return fmt.Errorf("gateway helper: %w", err)
	}

	fmt.Printf("Created gateway namespace at %s\n", paths.NetNS)
	return nil
}

// DestroyNetnsCmd is `vagga _destroy_netns`.
type DestroyNetnsCmd struct{}

func (c *DestroyNetnsCmd) Run() error {
	paths := netns.NewPaths(netns.RuntimeDir(os.Geteuid()))
	// Best-effort: the rule may already be gone, or never added with
	// --no-iptables.
	_ = netns.DisableMasquerade(netns.DefaultRouteInterface())
	if err := os.Remove(paths.NetNS); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(paths.UserNS); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// MergeCmd is `vagga _merge <image.tar> <output.tar>`: it groups an
// already-exported image's layers into runs no bigger than
// --max-layer-size and writes the merged image back out, the
// complement to `_build --export` (spec.md's domain stack,
// go-containerregistry tarball/mutate).
type MergeCmd struct {
	Image        string `arg:"" help:"Path to the source OCI image tarball"`
	Output       string `arg:"" help:"Path to write the merged OCI image tarball"`
	Tag          string `help:"Image reference to tag the merged output with" default:"merged:latest"`
	MaxLayerSize int64  `help:"Largest byte size a merged layer group may reach" default:"67108864"`
}

func (c *MergeCmd) Run() error {
	img, err := tarball.ImageFromPath(c.Image, nil)
	if err != nil {
		return fmt.Errorf("reading %s: %w", c.Image, err)
	}
	layers, err := img.Layers()
	if err != nil {
		return fmt.Errorf("reading layers: %w", err)
	}

	sizes := make([]int64, len(layers))
	for i, l := range layers {
		sz, err := l.Size()
		if err != nil {
			return fmt.Errorf("sizing layer %d: %w", i, err)
		}
		sizes[i] = sz
	}

	plan := ociexport.PlanMerge(sizes, c.MaxLayerSize)
	merged, err := ociexport.ExecuteMerge(img, plan)
	if err != nil {
		return fmt.Errorf("merging layers: %w", err)
	}

	ref, err := name.ParseReference(c.Tag, name.WithDefaultTag("latest"))
	if err != nil {
		return fmt.Errorf("parsing image reference %q: %w", c.Tag, err)
	}
	if err := tarball.WriteToFile(c.Output, ref, merged); err != nil {
		return fmt.Errorf("writing %s: %w", c.Output, err)
	}

	fmt.Printf("Merged %d layers into %d, wrote %s\n", len(layers), len(plan), c.Output)
	return nil
}

// runConfiguredCommand implements the plain `vagga <name> [args...]`
// form: look the name up among the project's configured commands,
// build its container if stale, and exec the configured run line
// (with any trailing args appended).
func runConfiguredCommand(name string, extra []string) int {
	env, err := loadProject()
	if err != nil {
		fmt.Fprintln(os.Stderr, "vagga:", err)
		return exitConfigError
	}
	cmdYAML, err := env.cfg.Command(name)
	if err != nil {
		fmt.Fprintln(os.Stderr, "vagga: unknown command:", name)
		return exitUnknownCmd
	}
	if cmdYAML.Supervise() {
		return runSuperviseCommand(env, cmdYAML)
	}
	res, err := env.buildContainer(cmdYAML.Container, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, "vagga:", err)
		return exitWrapperError
	}

	argv := append(append([]string{}, cmdYAML.Run...), extra...)
	cont, err := env.loadContainer(cmdYAML.Container)
	if err != nil {
		fmt.Fprintln(os.Stderr, "vagga:", err)
		return exitWrapperError
	}
	if err := env.execInContainer(res, cont, argv, "", nil); err != nil {
		fmt.Fprintln(os.Stderr, "vagga:", err)
		return exitWrapperError
	}
	return exitSuccess
}

// execInContainer enters the sandbox (internal/sandbox: a fresh
// user/mount namespace with the requested uid/gid ranges mapped in,
// bind-mounted container root pivoted to "/") and execs argv as pid 1
// inside it (spec.md §4.G/§4.I). It bind-mounts the project directory
// at "/work" so dir (a command's configured working directory) and
// relative paths inside argv resolve the way they do on the host.
func (p *projectEnv) execInContainer(res *builder.Result, cont *version.Container, argv []string, dir string, commandEnv map[string]string) error {
	mapping, isRoot, err := resolveMapping(cont)
	if err != nil {
		return err
	}

	environ := runengine.ComposeEnviron(hostEnviron(), nil, commandEnv)
	spec := sandbox.Spec{
		RootFS:     res.RootFS,
		ProjectDir: p.root,
		Flags:      sandbox.Flags{PID: true, UTS: true, IPC: true},
		Mapping:    mapping,
		IsRoot:     isRoot,
	}
	code, err := sandbox.Run(spec, argv, dir, environ)
	if err != nil {
		return err
	}
	if code != 0 {
		os.Exit(code)
	}
	return nil
}

// resolveMapping computes the uid/gid mapping a container's requested
// ranges resolve to for the current user: running as root always maps
// 1:1 (no /etc/subuid lookup needed or possible); otherwise the
// allowed subuid/subgid ranges are read and zipped against what the
// container asked for (spec.md §4.A).
func resolveMapping(cont *version.Container) (mapping *idmap.Mapping, isRoot bool, err error) {
	euid, egid, username, err := idmap.CurrentUser()
	if err != nil {
		return nil, false, err
	}
	if euid == 0 {
		return &idmap.Mapping{Singleton: true, UID: 0, GID: 0}, true, nil
	}

	allowedUIDs, err := idmap.ReadAllowedRanges("/etc/subuid", username)
	if err != nil {
		return nil, false, err
	}
	allowedGIDs, err := idmap.ReadAllowedRanges("/etc/subgid", username)
	if err != nil {
		return nil, false, err
	}

	mapping, err = idmap.Resolve(rangesFrom(cont.UIDs), rangesFrom(cont.GIDs), allowedUIDs, allowedGIDs, euid, egid)
	if err != nil {
		return nil, false, err
	}
	return mapping, false, nil
}

// runSuperviseCommand implements a supervise command (vaggayaml
// children: non-empty): each child gets its own sandboxExecutor and the
// whole group runs under internal/supervisor.Monitor until every child
// exits, a stop-on-failure child fails, or the process is signalled
// (spec.md §4.J, original_source's commands/supervise.rs).
func runSuperviseCommand(env *projectEnv, cmdYAML *vaggayaml.CommandYAML) int {
	mode := supervisor.Normal
	if cmdYAML.EffectiveMode() == vaggayaml.ModeStopOnFailure {
		mode = supervisor.StopOnFailure
	}

	names := make([]string, 0, len(cmdYAML.Children))
	for childName := range cmdYAML.Children {
		names = append(names, childName)
	}
	sort.Strings(names)

	mon := supervisor.New()
	for _, childName := range names {
		child := cmdYAML.Children[childName]
		mon.Add(&sandboxExecutor{
			name:      childName,
			env:       env,
			container: child.Container,
			argv:      child.Run,
		}, mode)
	}

	code, err := mon.Run(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "vagga:", err)
		return exitWrapperError
	}
	return code
}

// sandboxExecutor adapts one supervise-command child into a
// supervisor.Executor. Its Command builds the same "_enter_sandbox"
// re-exec execInContainer uses (internal/sandbox.Command): the uid/gid
// mapping travels in the child's environment and is applied by the
// child to itself right after the clone, so there's no point between
// supervisor.Monitor starting this Cmd and it reaching its own exec
// where the parent would need to intervene.
type sandboxExecutor struct {
	name      string
	env       *projectEnv
	container string
	argv      []string

	res *builder.Result
}

func (e *sandboxExecutor) Name() string { return e.name }

func (e *sandboxExecutor) Prepare() (supervisor.PrepareResult, error) {
	res, err := e.env.buildContainer(e.container, false)
	if err != nil {
		return supervisor.Shutdown, err
	}
	e.res = res
	return supervisor.Run, nil
}

func (e *sandboxExecutor) Command() (*exec.Cmd, error) {
	cont, err := e.env.loadContainer(e.container)
	if err != nil {
		return nil, err
	}
	mapping, isRoot, err := resolveMapping(cont)
	if err != nil {
		return nil, err
	}
	environ := runengine.ComposeEnviron(hostEnviron(), nil, nil)
	spec := sandbox.Spec{
		RootFS:     e.res.RootFS,
		ProjectDir: e.env.root,
		Flags:      sandbox.Flags{PID: true, UTS: true, IPC: true},
		Mapping:    mapping,
		IsRoot:     isRoot,
	}
	return sandbox.Command(spec, e.argv, "", environ)
}

func (e *sandboxExecutor) Finish(exitCode int) {
	fmt.Printf("vagga: %s exited with code %d\n", e.name, exitCode)
}

func rangesFrom(pairs [][2]uint32) []idmap.Range {
	out := make([]idmap.Range, len(pairs))
	for i, p := range pairs {
		out[i] = idmap.Range{Start: p[0], End: p[1]}
	}
	return out
}

func hostEnviron() map[string]string {
	out := map[string]string{}
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				out[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return out
}
