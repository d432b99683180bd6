package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/hashicorp/hcl"
	"github.com/hashicorp/hcl/hcl/ast"
	"github.com/mitchellh/mapstructure"
)

// LoadFile loads, parses, and validates the runtime configuration at path,
// layering it on top of DefaultConfig.
func LoadFile(path string) (*RuntimeConfig, error) {
	cleaned := filepath.Clean(path)

	f, err := os.Open(cleaned)
	if err != nil {
		return nil, fmt.Errorf("config: unable to open %s: %w", cleaned, err)
	}
	defer f.Close()

	parsed, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("config: error parsing %s: %w", cleaned, err)
	}

	merged := DefaultConfig().Merge(parsed)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

// Parse decodes an HCL document from r into a RuntimeConfig. It follows the
// same shape as the teacher's ParseConfig: buffer the reader, hcl.Parse it,
// assert the root is an object list, then walk it block by block.
func Parse(r io.Reader) (*RuntimeConfig, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, err
	}

	root, err := hcl.Parse(buf.String())
	if err != nil {
		return nil, fmt.Errorf("error parsing: %s", err)
	}

	list, ok := root.Node.(*ast.ObjectList)
	if !ok {
		return nil, fmt.Errorf("error parsing: root should be an object")
	}

	var result RuntimeConfig
	if err := parseRuntimeConfig(&result, list); err != nil {
		return nil, fmt.Errorf("error parsing 'config': %v", err)
	}

	return &result, nil
}

func parseRuntimeConfig(result *RuntimeConfig, list *ast.ObjectList) error {
	valid := []string{
		"aws_region",
		"autoscaling_group",
		"state_file",
		"mjs_status_log_file",
		"worker_os",
		"workers_per_node",
		"mjs_admin_cli",
		"scheduler_concurrency",
		"scheduler_host_timeout_seconds",
		"log_level",
		"log_format",
		"notification",
	}
	if err := checkHCLKeys(list, valid); err != nil {
		return multierror.Prefix(err, "config:")
	}

	var m map[string]interface{}
	if err := hcl.DecodeObject(&m, list); err != nil {
		return err
	}
	delete(m, "notification")

	if err := weakDecodeHCL(m, result); err != nil {
		return err
	}

	if o := list.Filter("notification"); len(o.Items) > 0 {
		if err := parseNotification(&result.Notification, o); err != nil {
			return multierror.Prefix(err, "notification ->")
		}
	}

	return nil
}

func parseNotification(result **Notification, list *ast.ObjectList) error {
	list = list.Elem()
	if len(list.Items) > 1 {
		return fmt.Errorf("only one 'notification' block allowed")
	}

	listVal := list.Items[0].Val

	valid := []string{
		"cluster_identifier",
		"pagerduty_service_key",
		"opsgenie_api_key",
	}
	if err := checkHCLKeys(listVal, valid); err != nil {
		return err
	}

	var m map[string]interface{}
	if err := hcl.DecodeObject(&m, listVal); err != nil {
		return err
	}

	var notification Notification
	if err := weakDecodeHCL(m, &notification); err != nil {
		return err
	}
	*result = &notification
	return nil
}

// weakDecodeHCL decodes m into output, matching keys against the structs'
// hcl tags rather than mapstructure's default tag name.
func weakDecodeHCL(input, output interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "hcl",
		WeaklyTypedInput: true,
		Result:           output,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

func checkHCLKeys(node ast.Node, valid []string) error {
	var list *ast.ObjectList
	switch n := node.(type) {
	case *ast.ObjectList:
		list = n
	case *ast.ObjectType:
		list = n.List
	default:
		return fmt.Errorf("cannot check HCL keys of type %T", n)
	}

	validMap := make(map[string]struct{}, len(valid))
	for _, v := range valid {
		validMap[v] = struct{}{}
	}

	var result error
	for _, item := range list.Items {
		key := item.Keys[0].Token.Value().(string)
		if _, ok := validMap[key]; !ok {
			result = multierror.Append(result, fmt.Errorf("invalid key: %s", key))
		}
	}

	return result
}
