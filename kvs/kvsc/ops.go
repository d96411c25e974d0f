package main

import (
	"fmt"

	"github.com/codegangsta/cli"

	kc "github.com/duzhanyuan/scaliendb/kvs/common"
)

var getCmd = cli.Command{
	Name:      "get",
	Usage:     "print the value of a key",
	ArgsUsage: "KEY",
	Action:    get,
}

var setCmd = cli.Command{
	Name:      "set",
	Usage:     "set the value of a key",
	ArgsUsage: "KEY VALUE",
	Action:    set,
}

var deleteCmd = cli.Command{
	Name:      "delete",
	Aliases:   []string{"del"},
	Usage:     "delete a key",
	ArgsUsage: "KEY",
	Action:    del,
}

func get(c *cli.Context) error {
	if c.NArg() != 1 {
		cli.ShowCommandHelp(c, "get")
		return cli.NewExitError("", 1)
	}
	client, err := dial(c)
	if err != nil {
		return err
	}
	defer client.Close()

	val, err := client.Get([]byte(c.Args().First()))
	switch err {
	case nil:
		fmt.Printf("%s\n", val)
		return nil
	case kc.ErrNotFound:
		return cli.NewExitError("Value for key was not found in map", 1)
	default:
		return cli.NewExitError(err.Error(), 1)
	}
}

func set(c *cli.Context) error {
	if c.NArg() != 2 {
		cli.ShowCommandHelp(c, "set")
		return cli.NewExitError("", 1)
	}
	client, err := dial(c)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Set([]byte(c.Args().Get(0)), []byte(c.Args().Get(1))); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	return nil
}

func del(c *cli.Context) error {
	if c.NArg() != 1 {
		cli.ShowCommandHelp(c, "delete")
		return cli.NewExitError("", 1)
	}
	client, err := dial(c)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Delete([]byte(c.Args().First())); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	return nil
}
