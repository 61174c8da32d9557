// Command taulctl is an interactive demo front-end over the taul façade:
// it brings up a small loopback Ladder configuration (subnet 1 on 127.0.0.1,
// subnet 2 on 127.0.0.2) and lets an operator inspect and change the Traffic
// Store's write subnet from a shell.
//
// Grounded on fixclient/repl.go: a readline.NewPrefixCompleter completion
// tree, a "PROMPT>" loop reading one line at a time, dispatch by first
// token, "help"/"status"/"version"/"exit" as the baseline command set.
package main

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/saelay/trdp-ladder/internal/config"
	"github.com/saelay/trdp-ladder/internal/transport"
	"github.com/saelay/trdp-ladder/taul"
)

const version = "taulctl 0.1.0 (trdp-ladder)"

func main() {
	cfg := demoConfig()

	session, err := taul.Init(cfg, nil)
	if err != nil {
		log.Fatalf("taulctl: init failed: %v", err)
	}
	defer session.Terminate()

	repl(session)
}

// demoConfig builds a minimal two-subnet loopback Ladder configuration: one
// cyclic publisher on subnet 1 and a matching subscriber. The status
// command reports only the write subnet, not PD traffic. A real
// deployment's ExchgPar list
// comes from the XML loader (out of scope per spec §6.1); this is a
// hand-built stand-in for the demo.
func demoConfig() *config.LdConfig {
	localhost, _ := transport.ParseIP4("127.0.0.1")
	// Each subnet needs its own bindable address: a real Ladder install has
	// one physical NIC per subnet, and 127.0.0.0/8 is entirely loopback, so
	// 127.0.0.2 stands in for the second interface without a port conflict.
	subnet2Host, _ := transport.ParseIP4("127.0.0.2")

	heartbeatDataset := config.DatasetConfig{
		DatasetID: 1000,
		Elements: []config.DatasetElementConfig{
			{Type: config.TypeUINT32, Count: 1},
			{Type: config.TypeTIMEDATE32, Count: 1},
		},
	}

	return &config.LdConfig{
		Interfaces: []config.InterfaceConfig{
			{Name: "eth0", NetworkID: config.Subnet1, HostIP: localhost},
			{Name: "eth1", NetworkID: config.Subnet2, HostIP: subnet2Host},
		},
		Datasets: []config.DatasetConfig{heartbeatDataset},
		ComIdMap: []config.ComIdDatasetMap{{ComID: 100, DatasetID: 1000}},
		Exchange: []config.ExchgPar{
			{
				InterfaceName: "eth0",
				PdPar: &config.PdParameters{
					Kind:        config.PdPublisher,
					ComID:       100,
					DatasetID:   1000,
					SrcIP:       localhost,
					DstIP:       localhost,
					CycleMicros: 500_000,
					Flags:       config.FlagMarshall,
				},
			},
			{
				InterfaceName: "eth0",
				PdPar: &config.PdParameters{
					Kind:          config.PdSubscriber,
					ComID:         100,
					DatasetID:     1000,
					DstIP:         localhost,
					TimeoutMicros: 2_000_000,
					Flags:         config.FlagMarshall,
				},
			},
		},
	}
}

func repl(session *taul.Session) {
	completer := readline.NewPrefixCompleter(
		readline.PcItem("status"),
		readline.PcItem("writesubnet", readline.PcItem("auto"), readline.PcItem("1"), readline.PcItem("2")),
		readline.PcItem("help"),
		readline.PcItem("version"),
		readline.PcItem("exit"),
	)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "taulctl> ",
		HistoryFile:     "/tmp/taulctl_history",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		log.Printf("taulctl: failed to create readline: %v", err)
		return
	}
	defer rl.Close()

	displayHelp()
	for {
		line, err := rl.Readline()
		if err != nil {
			return
		}

		parts := strings.Fields(strings.TrimSpace(line))
		if len(parts) == 0 {
			continue
		}

		switch strings.ToLower(parts[0]) {
		case "status":
			handleStatus(session)
		case "writesubnet":
			handleWriteSubnet(session, parts)
		case "help":
			displayHelp()
		case "version":
			fmt.Println(version)
		case "exit":
			return
		default:
			fmt.Println("Unknown command. Type 'help' for available commands.")
		}
	}
}

func handleStatus(session *taul.Session) {
	fmt.Printf("write subnet: %v\n", session.GetWriteSubnet())
}

func handleWriteSubnet(session *taul.Session, parts []string) {
	if len(parts) < 2 {
		fmt.Println("Usage: writesubnet <auto|1|2>")
		return
	}
	switch strings.ToLower(parts[1]) {
	case "auto":
		session.SetWriteSubnet(0)
	case "1":
		session.SetWriteSubnet(1)
	case "2":
		session.SetWriteSubnet(2)
	default:
		if _, err := strconv.Atoi(parts[1]); err != nil {
			fmt.Println("Usage: writesubnet <auto|1|2>")
		}
	}
}

func displayHelp() {
	fmt.Print(`Commands:
  status                 - show the selected write subnet
  writesubnet <auto|1|2> - force or release the Traffic Store write subnet
  help                   - show this help
  version                - show version
  exit                   - quit
`)
}
