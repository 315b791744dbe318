package geocore

import (
	"encoding/json"

	tiledb "github.com/TileDB-Inc/TileDB-Go"
)

// WriteJSON serializes data as indented JSON to fileURI through TileDB VFS,
// so the destination can be a local path or an object-store URI without the
// caller caring which. Adapted from the teacher's WriteJson for dumping a
// DataFrame's scalar metadata dictionary (§3) or CLI run summaries.
func WriteJSON(fileURI, configURI string, data any) (int, error) {
	config, err := tiledbConfig(configURI)
	if err != nil {
		return 0, err
	}
	defer config.Free()

	ctx, err := tiledb.NewContext(config)
	if err != nil {
		return 0, err
	}
	defer ctx.Free()

	vfs, err := tiledb.NewVFS(ctx, config)
	if err != nil {
		return 0, err
	}
	defer vfs.Free()

	stream, err := vfs.Open(fileURI, tiledb.TILEDB_VFS_WRITE)
	if err != nil {
		return 0, err
	}
	defer stream.Close()

	jsn, err := json.MarshalIndent(data, "", "    ")
	if err != nil {
		return 0, err
	}
	return stream.Write(jsn)
}

// MetaToJSON renders a DataFrame's scalar metadata dictionary (§3) as a JSON
// object, for CLI reporting and log attachments.
func MetaToJSON(meta []*Column) (string, error) {
	out := make(map[string]interface{}, len(meta))
	for _, col := range meta {
		if col.Len() == 0 {
			continue
		}
		out[col.Name] = col.data.Index(0).Interface()
	}
	jsn, err := json.MarshalIndent(out, "", "    ")
	if err != nil {
		return "", err
	}
	return string(jsn), nil
}

func tiledbConfig(configURI string) (*tiledb.Config, error) {
	if configURI == "" {
		return tiledb.NewConfig()
	}
	return tiledb.LoadConfig(configURI)
}
