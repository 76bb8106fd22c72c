package onedrive

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
)

// ListFiles walks drive starting at root, a "/"-separated folder path relative
// to the drive root ("" for the root itself), and returns every file found.
// descend is asked for each subfolder (by its path relative to the drive root)
// whether it should be entered; nil enters every folder. Files are returned
// sorted by path.
func (c *Client) ListFiles(ctx context.Context, drive DriveRef, root string, descend func(dir string) bool) ([]RemoteFile, error) {
	root = strings.Trim(root, "/")

	type folder struct {
		path string
		url  string
	}
	start := folder{url: c.baseURL + drive.base + "/root/children"}
	if root != "" {
		// Graph resolves path addresses case-insensitively; paths below the
		// root are built from the names it returns, not from root.
		item, err := c.getFolder(ctx, drive, root)
		if err != nil {
			return nil, err
		}
		start = folder{
			path: itemPath(item, path.Dir(root)),
			url:  c.baseURL + drive.base + "/items/" + url.PathEscape(item.ID) + "/children",
		}
		if start.path != root {
			c.logger.Debugf("Listing root %q is stored as %q", "/"+root, "/"+start.path)
			if descend != nil && !descend(start.path) {
				return nil, nil
			}
		}
	}

	var files []RemoteFile
	queue := []folder{start}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		items, err := collectAllPages[DriveItem](ctx, c, current.url, "list children")
		if err != nil {
			return nil, fmt.Errorf("listing folder %q: %w", "/"+current.path, err)
		}
		c.logger.Debugf("Listed %d items in %q", len(items), "/"+current.path)

		for _, item := range items {
			childPath := path.Join(current.path, item.Name)
			switch {
			case item.Folder != nil:
				if descend != nil && !descend(childPath) {
					c.logger.Debugf("Skipping folder %q", childPath)
					continue
				}
				queue = append(queue, folder{
					path: childPath,
					url:  c.baseURL + drive.base + "/items/" + url.PathEscape(item.ID) + "/children",
				})
			case item.File != nil:
				files = append(files, RemoteFile{
					Path:         childPath,
					Name:         item.Name,
					ID:           item.ID,
					Size:         item.Size,
					LastModified: item.LastModifiedDateTime,
					DownloadURL:  item.DownloadURL,
					ContentURL:   c.baseURL + drive.base + "/items/" + url.PathEscape(item.ID) + "/content",
				})
			default:
				c.logger.Debugf("Skipping %q, neither file nor folder", childPath)
			}
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// getFolder fetches the folder item addressed by the drive-relative path p.
func (c *Client) getFolder(ctx context.Context, drive DriveRef, p string) (DriveItem, error) {
	var item DriveItem
	err := c.getJSON(ctx, c.baseURL+drive.base+"/root:/"+escapePath(p), &item, "get folder")
	switch {
	case errors.Is(err, ErrResourceNotFound):
		return item, fmt.Errorf("cannot find %q, verify that the path exists: %w", "/"+p, err)
	case err != nil:
		return item, fmt.Errorf("getting folder %q: %w", "/"+p, err)
	case item.Folder == nil:
		return item, fmt.Errorf("%w: %q is not a folder", ErrInvalidRequest, "/"+p)
	}
	return item, nil
}

// itemPath returns the drive-relative path of item from its parent reference
// ("/drive/root:/Reports/2024"). fallbackParent is used when Graph omits it.
func itemPath(item DriveItem, fallbackParent string) string {
	parent := fallbackParent
	if ref := item.ParentReference.Path; ref != "" {
		if i := strings.Index(ref, "root:"); i >= 0 {
			parent = ref[i+len("root:"):]
			if unescaped, err := url.PathUnescape(parent); err == nil {
				parent = unescaped
			}
		}
	}
	return strings.Trim(path.Join("/", parent, item.Name), "/")
}
