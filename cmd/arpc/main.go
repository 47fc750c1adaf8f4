// Program arpc is a command-line utility for interacting with arpc peers.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/creachadair/arpc"
	"github.com/creachadair/arpc/arpctest"
	"github.com/creachadair/arpc/catalog"
	"github.com/creachadair/arpc/channel"
	"github.com/creachadair/arpc/rpcctx"
	"github.com/creachadair/arpc/transport"
	"github.com/creachadair/command"
	"github.com/creachadair/flax"
)

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: "Utilities for interacting with arpc peers.",
		Commands: []*command.C{
			callCommand(),
			serveCommand(),
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

// callFlags binds the flags shared by the call subcommand, using
// github.com/creachadair/flax the same way cmd/chirp would if it needed
// anything beyond its built-in flags.
var callFlags struct {
	Object  string        `flag:"object,default=echo,Object name to address"`
	Method  string        `flag:"method,default=Echo,Method name to invoke"`
	Timeout time.Duration `flag:"timeout,default=10s,Deadline for the call"`
	Verbose bool          `flag:"v,default=false,Log every envelope sent and received to stderr"`
}

func callCommand() *command.C {
	return &command.C{
		Name:  "call",
		Usage: "<host:port> <argument>",
		Help: `Dial a host and invoke a single method, printing the raw response bytes.

The argument is sent to the peer verbatim as the request payload; the
response payload is written to stdout without a trailing newline. Method
and object names default to the values a "arpc serve" peer registers.`,
		SetFlags: func(_ *command.Env, fs *flag.FlagSet) { flax.MustBind(fs, &callFlags) },
		Run: func(env *command.Env) error {
			if len(env.Args) != 2 {
				return env.Usagef("expected exactly a host:port and an argument")
			}
			return runCall(context.Background(), env.Args[0], env.Args[1])
		},
	}
}

func runCall(ctx context.Context, hostport, arg string) error {
	ctx, cancel := context.WithTimeout(ctx, callFlags.Timeout)
	defer cancel()

	addr, err := resolveHostPort(ctx, hostport)
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}

	cli := arpc.NewClient(arpc.ClientOptions{
		RequestTimeout: callFlags.Timeout,
		LogPackets:     logPacketIf(callFlags.Verbose),
	})
	if err := cli.Dial(ctx, "tcp", addr); err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer cli.Close()

	cat := catalog.New(callFlags.Object).Add(callFlags.Method, catalog.Signature{Param: "[]byte", Result: "[]byte"})
	callCtx := rpcctx.Root().NewChild(rpcctx.WithTimeout(callFlags.Timeout))
	defer callCtx.Close()

	out, err := arpc.Call[[]byte, []byte](callCtx, cli, cat, callFlags.Method, []byte(arg))
	if err != nil {
		return fmt.Errorf("call %s.%s: %w", callFlags.Object, callFlags.Method, err)
	}
	os.Stdout.Write(out)
	return nil
}

// resolveHostPort resolves the host component of hostport with
// [transport.NewResolver], the arpc-native DNS path, and rejoins it with the
// original port, rather than delegating the whole lookup to the standard
// dialer.
func resolveHostPort(ctx context.Context, hostport string) (string, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", fmt.Errorf("invalid port %q: %w", portStr, err)
	}

	ips, err := transport.NewResolver().Resolve(ctx, host)
	if err != nil {
		return "", err
	}
	if len(ips) == 0 {
		return "", fmt.Errorf("no addresses found for %q", host)
	}
	ep := transport.Endpoint{Host: host, Port: port, Kind: transport.KindStream}
	return ep.Address(ips[0]).String(), nil
}

// serveFlags binds the flags for the serve subcommand.
var serveFlags struct {
	Object  string `flag:"object,default=echo,Object name to register"`
	Verbose bool   `flag:"v,default=false,Log every envelope sent and received to stderr"`
}

func serveCommand() *command.C {
	return &command.C{
		Name:  "serve",
		Usage: "<host:port>",
		Help: `Listen for TCP connections and serve a single "Echo" method that
returns its argument unchanged, for exercising "arpc call" end to end.`,
		SetFlags: func(_ *command.Env, fs *flag.FlagSet) { flax.MustBind(fs, &serveFlags) },
		Run: func(env *command.Env) error {
			if len(env.Args) != 1 {
				return env.Usagef("expected exactly a host:port to listen on")
			}
			return runServe(context.Background(), env.Args[0])
		},
	}
}

func runServe(ctx context.Context, addr string) error {
	lst, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer lst.Close()
	fmt.Fprintf(os.Stderr, "arpc: serving %q on %s\n", serveFlags.Object, lst.Addr())

	cat := catalog.New(serveFlags.Object).Add("Echo", catalog.Signature{Param: "[]byte", Result: "[]byte"})
	for {
		conn, err := lst.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go serveConn(ctx, conn.(*net.TCPConn), cat)
	}
}

func serveConn(ctx context.Context, conn *net.TCPConn, cat *catalog.Catalog) {
	defer func() {
		if serveFlags.Verbose {
			fmt.Fprintf(os.Stderr, "arpc: closed connection from %s\n", conn.RemoteAddr())
		}
	}()

	tch, err := transport.WrapTCP(conn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "arpc: wrap %s: %v\n", conn.RemoteAddr(), err)
		return
	}

	// This connection is served exactly once; a failure here means the
	// socket is dead, so there is nothing left to redial.
	dialed := false
	rc := transport.NewReconnecting(func(context.Context) (transport.Channel, error) {
		if dialed {
			return nil, fmt.Errorf("arpc: connection to %s already consumed", conn.RemoteAddr())
		}
		dialed = true
		return tch, nil
	})
	ch := channel.New(rc)

	stub := arpctest.NewStub(cat.Object(), cat, ch)
	stub.Handle("Echo", func(_ context.Context, req *arpc.Request) ([]byte, error) {
		return req.Args, nil
	})
	if err := stub.Serve(ctx); err != nil && serveFlags.Verbose {
		fmt.Fprintf(os.Stderr, "arpc: serve %s: %v\n", conn.RemoteAddr(), err)
	}
}

func logPacketIf(verbose bool) arpc.PacketLogger {
	if !verbose {
		return nil
	}
	return func(info arpc.PacketInfo) {
		dir := "recv"
		if info.Sent {
			dir = "send"
		}
		fmt.Fprintf(os.Stderr, "arpc: %s #%d %s\n", dir, info.Envelope.RequestID, info.Envelope.Type)
	}
}
