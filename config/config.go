package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	NodeID = iota
	NodeIP
	NodeRPCListenerPort
	NodeRole
)

const (
	RoleCoordinator = "coordinator"
	RoleReplica     = "replica"
)

// ParseClusterConfig reads the cluster file: one whitespace-separated row per
// node with columns id, ip, rpc port and role (coordinator | replica). Row 0
// must be the coordinator.
func ParseClusterConfig(numOfNodes int, path string) (info [][]string) {

	var fileRows []string

	s, err := os.Open(path)
	if err != nil {
		panic(err)
	}

	defer func() {
		err := s.Close()
		if err != nil {
			panic(err)
		}
	}()

	scanner := bufio.NewScanner(s)
	scanner.Split(bufio.ScanLines)

	for scanner.Scan() {
		fileRows = append(fileRows, scanner.Text())
	}

	if len(fileRows) < numOfNodes {
		err := fmt.Sprintf("insufficient configs for nodes | # rows: %v | # nodes: %v", len(fileRows), numOfNodes)
		panic(errors.New(err))
	}

	for i := 0; i < len(fileRows); i++ {
		row := strings.Fields(fileRows[i])
		if len(row) <= NodeRole {
			err := fmt.Sprintf("malformed config row %d: %q", i, fileRows[i])
			panic(errors.New(err))
		}
		info = append(info, row)
	}

	if info[0][NodeRole] != RoleCoordinator {
		panic(errors.New("row 0 of the cluster config must be the coordinator"))
	}

	return info
}

// ParseRollList reads the roll-number file used by the simulation client: a
// single row of whitespace-separated roll numbers.
func ParseRollList(path string) (rolls []string) {
	var fileRows []string

	s, err := os.Open(path)
	if err != nil {
		panic(err)
	}

	defer func() {
		err := s.Close()
		if err != nil {
			panic(err)
		}
	}()

	scanner := bufio.NewScanner(s)
	scanner.Split(bufio.ScanLines)

	for scanner.Scan() {
		fileRows = append(fileRows, scanner.Text())
	}

	if len(fileRows) != 1 {
		err := fmt.Sprintf("this file is supposed to have one row | got %d rows", len(fileRows))
		panic(errors.New(err))
	}

	rolls = strings.Fields(fileRows[0])
	if len(rolls) == 0 {
		panic(errors.New("roll list is empty"))
	}

	return rolls
}
