// Command cepcli is an interactive test client for the payload
// scheduler's serial protocol: it presents a numbered menu of the six
// commands, prompts for their parameters on stdin, and prints the
// scheduler's reply. It is the Go counterpart of the original project's
// interactive example client, adapted to dial either a real UART device
// or a TCP endpoint (handy for driving a scheduler under test through a
// plain socket instead of a virtual serial pair).
package main

import (
	"bufio"
	"encoding/binary"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/spaceteam/edu-scheduler/internal/cep"
	"github.com/spaceteam/edu-scheduler/internal/link"
	"github.com/spaceteam/edu-scheduler/internal/serialport"
)

var commands = []string{
	"StoreArchive",
	"ExecuteProgram",
	"StopProgram",
	"GetStatus",
	"ReturnResult",
	"UpdateTime",
	"quit",
}

func main() {
	uart := flag.String("uart", "", "serial device path (mutually exclusive with -addr)")
	baudrate := flag.Int("baudrate", 921600, "baud rate, when -uart is used")
	addr := flag.String("addr", "", "TCP address to dial instead of a serial device, e.g. localhost:9000")
	flag.Parse()

	conn, err := dial(*uart, *baudrate, *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cepcli: %v\n", err)
		os.Exit(1)
	}
	l := link.New(conn)

	in := bufio.NewReader(os.Stdin)
	for {
		choice, err := promptMenu(in)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cepcli: %v\n", err)
			return
		}
		if choice == "quit" {
			return
		}
		if err := runCommand(l, in, choice); err != nil {
			fmt.Printf("error: %v\n", err)
		}
		fmt.Println("------------------------")
	}
}

func dial(uart string, baudrate int, addr string) (link.Conn, error) {
	switch {
	case uart != "" && addr != "":
		return nil, fmt.Errorf("specify only one of -uart or -addr")
	case uart != "":
		return serialport.Open(uart, baudrate)
	case addr != "":
		return net.Dial("tcp", addr)
	default:
		return nil, fmt.Errorf("specify -uart or -addr")
	}
}

func promptMenu(in *bufio.Reader) (string, error) {
	fmt.Println("Select command:")
	for i, c := range commands {
		fmt.Printf("  %d) %s\n", i+1, c)
	}
	fmt.Print("> ")
	line, err := in.ReadString('\n')
	if err != nil {
		return "", err
	}
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || n < 1 || n > len(commands) {
		return "", fmt.Errorf("invalid selection %q", strings.TrimSpace(line))
	}
	return commands[n-1], nil
}

func promptString(in *bufio.Reader, label string) (string, error) {
	fmt.Printf("%s: ", label)
	line, err := in.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func promptUint(in *bufio.Reader, label string, bits int) (uint64, error) {
	s, err := promptString(in, label)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(s, 10, bits)
}

func runCommand(l *link.Link, in *bufio.Reader, name string) error {
	switch name {
	case "StoreArchive":
		return runStoreArchive(l, in)
	case "ExecuteProgram":
		return runExecuteProgram(l, in)
	case "StopProgram":
		return runSimple(l, []byte{0x03})
	case "GetStatus":
		return runGetStatus(l)
	case "ReturnResult":
		return runReturnResult(l, in)
	case "UpdateTime":
		return runUpdateTime(l, in)
	default:
		return nil
	}
}

func sendAndAwaitAck(l *link.Link, body []byte) error {
	f, err := cep.NewData(body)
	if err != nil {
		return err
	}
	if err := l.SendPacket(f); err != nil {
		return err
	}
	reply, err := l.ReceivePacket(link.UnlimitedTimeout)
	if err != nil {
		return err
	}
	fmt.Printf("received %s\n", reply.Kind)
	return nil
}

func runSimple(l *link.Link, body []byte) error {
	return sendAndAwaitAck(l, body)
}

func runStoreArchive(l *link.Link, in *bufio.Reader) error {
	path, err := promptString(in, "Path to zip file")
	if err != nil {
		return err
	}
	programID, err := promptUint(in, "Program id", 16)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	body := make([]byte, 3)
	body[0] = 0x01
	binary.LittleEndian.PutUint16(body[1:3], uint16(programID))
	f, err := cep.NewData(body)
	if err != nil {
		return err
	}
	if err := l.SendPacket(f); err != nil {
		return err
	}
	if err := l.SendMultiPacket(data); err != nil {
		return err
	}
	reply, err := l.ReceivePacket(link.UnlimitedTimeout)
	if err != nil {
		return err
	}
	fmt.Printf("received %s\n", reply.Kind)
	return nil
}

func runExecuteProgram(l *link.Link, in *bufio.Reader) error {
	programID, err := promptUint(in, "Program id", 16)
	if err != nil {
		return err
	}
	timestamp, err := promptUint(in, "Timestamp", 32)
	if err != nil {
		return err
	}
	timeout, err := promptUint(in, "Timeout (seconds)", 16)
	if err != nil {
		return err
	}

	body := make([]byte, 9)
	body[0] = 0x02
	binary.LittleEndian.PutUint16(body[1:3], uint16(programID))
	binary.LittleEndian.PutUint32(body[3:7], uint32(timestamp))
	binary.LittleEndian.PutUint16(body[7:9], uint16(timeout))
	return sendAndAwaitAck(l, body)
}

func runGetStatus(l *link.Link) error {
	f, err := cep.NewData([]byte{0x04})
	if err != nil {
		return err
	}
	if err := l.SendPacket(f); err != nil {
		return err
	}
	reply, err := l.ReceivePacket(link.UnlimitedTimeout)
	if err != nil {
		return err
	}
	if reply.Kind != cep.KindData || len(reply.Payload) == 0 {
		fmt.Printf("received %s\n", reply.Kind)
		return nil
	}
	printStatus(reply.Payload)
	return nil
}

func printStatus(status []byte) {
	switch status[0] {
	case 0:
		fmt.Println("No Event")
	case 1:
		fmt.Printf("Program Finished with ID: %d Timestamp: %d Exit Code: %d\n",
			binary.LittleEndian.Uint16(status[1:3]), binary.LittleEndian.Uint32(status[3:7]), status[7])
	case 2:
		fmt.Printf("Result ready for ID: %d Timestamp: %d\n",
			binary.LittleEndian.Uint16(status[1:3]), binary.LittleEndian.Uint32(status[3:7]))
	case 3:
		fmt.Println("Enable dosimeter")
	case 4:
		fmt.Println("Disable dosimeter")
	default:
		fmt.Printf("Unknown event %d\n", status[0])
	}
}

func runReturnResult(l *link.Link, in *bufio.Reader) error {
	programID, err := promptUint(in, "Program id", 16)
	if err != nil {
		return err
	}
	timestamp, err := promptUint(in, "Timestamp", 32)
	if err != nil {
		return err
	}
	resultPath, err := promptString(in, "File path for returned result")
	if err != nil {
		return err
	}
	if resultPath == "" {
		resultPath = "./result.bundle"
	}

	body := make([]byte, 7)
	body[0] = 0x05
	binary.LittleEndian.PutUint16(body[1:3], uint16(programID))
	binary.LittleEndian.PutUint32(body[3:7], uint32(timestamp))
	f, err := cep.NewData(body)
	if err != nil {
		return err
	}
	if err := l.SendPacket(f); err != nil {
		return err
	}
	data, err := l.ReceiveMultiPacket(link.IntegrityAckTimeout)
	if err != nil {
		fmt.Printf("received error: %v\n", err)
		return nil
	}
	if err := os.WriteFile(resultPath, data, 0o644); err != nil {
		return err
	}
	fmt.Println("Wrote result to file")
	return nil
}

func runUpdateTime(l *link.Link, in *bufio.Reader) error {
	seconds, err := promptUint(in, "Seconds since epoch", 32)
	if err != nil {
		return err
	}
	body := make([]byte, 5)
	body[0] = 0x06
	binary.LittleEndian.PutUint32(body[1:5], uint32(seconds))
	return sendAndAwaitAck(l, body)
}
