// Command muxcache-cli is an interactive client for muxcache servers.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pior/muxcache"
)

func main() {
	addrs := flag.String("addr", "localhost"+muxcache.DefaultAddr, "Comma-separated server addresses")
	timeout := flag.Duration("timeout", 5*time.Second, "Per-command timeout")
	flag.Parse()

	client, err := muxcache.NewClient(muxcache.NewStaticServers(splitAddrs(*addrs)...), muxcache.Config{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	fmt.Println("muxcache CLI")
	fmt.Println("============")
	fmt.Println("Commands: get <key>, set <key> <value> [type_id], del <key>, stats, help, quit")
	fmt.Println()

	if err := repl(client, os.Stdin, os.Stdout, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}
}

func splitAddrs(s string) []string {
	var addrs []string
	for _, addr := range strings.Split(s, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			addrs = append(addrs, addr)
		}
	}
	return addrs
}

// repl reads commands from in until quit or EOF.
func repl(client *muxcache.Client, in io.Reader, out io.Writer, timeout time.Duration) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}

		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}

		command := strings.ToLower(parts[0])
		if command == "quit" || command == "exit" {
			fmt.Fprintln(out, "Goodbye!")
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		execute(ctx, client, out, command, parts[1:])
		cancel()
	}
	return scanner.Err()
}

func execute(ctx context.Context, client *muxcache.Client, out io.Writer, command string, args []string) {
	switch command {
	case "get":
		if len(args) != 1 {
			fmt.Fprintln(out, "Usage: get <key>")
			return
		}
		handleGet(ctx, client, out, args[0])

	case "set":
		if len(args) < 2 || len(args) > 3 {
			fmt.Fprintln(out, "Usage: set <key> <value> [type_id]")
			return
		}
		var typeID uint64
		if len(args) == 3 {
			var err error
			typeID, err = strconv.ParseUint(args[2], 10, 32)
			if err != nil {
				fmt.Fprintf(out, "Invalid type id: %v\n", err)
				return
			}
		}
		handleSet(ctx, client, out, muxcache.Item{Key: args[0], TypeID: uint32(typeID), Value: []byte(args[1])})

	case "del", "delete":
		if len(args) != 1 {
			fmt.Fprintln(out, "Usage: del <key>")
			return
		}
		handleDelete(ctx, client, out, args[0])

	case "stats":
		handleStats(ctx, client, out)

	case "help":
		fmt.Fprintln(out, "Commands:")
		fmt.Fprintln(out, "  get <key>                    - Get a value by key")
		fmt.Fprintln(out, "  set <key> <value> [type_id]  - Store a value with an optional type id")
		fmt.Fprintln(out, "  del <key>                    - Send a delete request")
		fmt.Fprintln(out, "  stats                        - Show server and client statistics")
		fmt.Fprintln(out, "  quit                         - Exit the CLI")

	default:
		fmt.Fprintf(out, "Unknown command: %s. Type 'help' for available commands.\n", command)
	}
}

func handleGet(ctx context.Context, client *muxcache.Client, out io.Writer, key string) {
	start := time.Now()
	item, err := client.Get(ctx, key)
	duration := time.Since(start)

	if err != nil {
		fmt.Fprintf(out, "Error: %v (took %v)\n", err, duration)
		return
	}
	if !item.Found {
		fmt.Fprintf(out, "Key not found (took %v)\n", duration)
		return
	}

	fmt.Fprintf(out, "Value: %s (took %v)\n", item.Value, duration)
	if item.TypeID != 0 {
		fmt.Fprintf(out, "Type: %d\n", item.TypeID)
	}
}

func handleSet(ctx context.Context, client *muxcache.Client, out io.Writer, item muxcache.Item) {
	start := time.Now()
	err := client.Set(ctx, item)
	duration := time.Since(start)

	if err != nil {
		fmt.Fprintf(out, "Error: %v (took %v)\n", err, duration)
		return
	}
	fmt.Fprintf(out, "Stored successfully (took %v)\n", duration)
}

func handleDelete(ctx context.Context, client *muxcache.Client, out io.Writer, key string) {
	start := time.Now()
	err := client.Delete(ctx, key)
	duration := time.Since(start)

	if err != nil {
		fmt.Fprintf(out, "Error: %v (took %v)\n", err, duration)
		return
	}
	fmt.Fprintf(out, "Delete acknowledged (took %v)\n", duration)
}

func handleStats(ctx context.Context, client *muxcache.Client, out io.Writer) {
	reports, err := client.ServerStats(ctx)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}

	addrs := make([]string, 0, len(reports))
	for addr := range reports {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	fmt.Fprintln(out, "Server Statistics:")
	for _, addr := range addrs {
		fmt.Fprintf(out, "  %s: %s\n", addr, reports[addr])
	}

	stats := client.Stats()
	fmt.Fprintln(out, "Client Statistics:")
	fmt.Fprintf(out, "  Gets: %d (hits: %d)\n", stats.Gets, stats.GetHits)
	fmt.Fprintf(out, "  Sets: %d\n", stats.Sets)
	fmt.Fprintf(out, "  Deletes: %d\n", stats.Deletes)
	fmt.Fprintf(out, "  Errors: %d\n", stats.Errors)

	for _, pool := range client.AllPoolStats() {
		fmt.Fprintf(out, "Pool %s:\n", pool.Addr)
		fmt.Fprintf(out, "  Total Connections: %d\n", pool.PoolStats.TotalConns)
		fmt.Fprintf(out, "  Active Connections: %d\n", pool.PoolStats.ActiveConns)
		fmt.Fprintf(out, "  Idle Connections: %d\n", pool.PoolStats.IdleConns)
		fmt.Fprintf(out, "  Circuit Breaker: %s\n", pool.CircuitBreakerState)
	}
}
