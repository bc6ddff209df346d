// Command keytool manages the keeper's encrypted key file and signs login
// challenges for scripted API access.
//
//	keytool new -out keeper.json
//	keytool address -key keeper.json
//	keytool login -key keeper.json [-ts 1740830400]
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/alanyoungcy/tradekeeper/internal/auth"
	"github.com/alanyoungcy/tradekeeper/internal/crypto"
)

const passwordEnv = "TRADEKEEPER_KEY_PASSWORD"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "new":
		err = runNew(os.Args[2:])
	case "import":
		err = runImport(os.Args[2:])
	case "address":
		err = runAddress(os.Args[2:])
	case "login":
		err = runLogin(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "keytool: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: keytool <new|import|address|login> [flags]")
	fmt.Fprintf(os.Stderr, "the key file password is read from %s\n", passwordEnv)
}

func password() (string, error) {
	pw := os.Getenv(passwordEnv)
	if pw == "" {
		return "", errors.New(passwordEnv + " is not set")
	}
	return pw, nil
}

func writeKeyFile(path string, id *crypto.Identity) error {
	pw, err := password()
	if err != nil {
		return err
	}
	data, err := crypto.EncryptIdentity(id, pw)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Println(id.Address().Hex())
	return nil
}

func runNew(args []string) error {
	fs := flag.NewFlagSet("new", flag.ExitOnError)
	out := fs.String("out", "keeper.json", "key file to write")
	_ = fs.Parse(args)

	id, err := crypto.GenerateIdentity()
	if err != nil {
		return err
	}
	return writeKeyFile(*out, id)
}

func runImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	out := fs.String("out", "keeper.json", "key file to write")
	keyEnv := fs.String("env", "TRADEKEEPER_PRIVATE_KEY", "environment variable holding the hex key")
	_ = fs.Parse(args)

	raw := os.Getenv(*keyEnv)
	if raw == "" {
		return fmt.Errorf("%s is not set", *keyEnv)
	}
	id, err := crypto.NewIdentity(raw)
	if err != nil {
		return err
	}
	return writeKeyFile(*out, id)
}

func loadKey(fs *flag.FlagSet, args []string) (*crypto.Identity, error) {
	path := fs.String("key", "keeper.json", "encrypted key file")
	_ = fs.Parse(args)
	pw, err := password()
	if err != nil {
		return nil, err
	}
	return crypto.LoadIdentity(crypto.IdentitySource{KeyFile: *path, Password: pw})
}

func runAddress(args []string) error {
	id, err := loadKey(flag.NewFlagSet("address", flag.ExitOnError), args)
	if err != nil {
		return err
	}
	fmt.Println(id.Address().Hex())
	return nil
}

func runLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	ts := fs.Int64("ts", 0, "challenge unix timestamp (default now)")
	id, err := loadKey(fs, args)
	if err != nil {
		return err
	}
	if *ts == 0 {
		*ts = time.Now().Unix()
	}
	sig, err := id.SignPersonal([]byte(auth.ChallengeMessage(id.Address(), *ts)))
	if err != nil {
		return err
	}
	fmt.Printf(`{"address":%q,"timestamp":%d,"signature":%q}`+"\n", id.Address().Hex(), *ts, sig)
	return nil
}
