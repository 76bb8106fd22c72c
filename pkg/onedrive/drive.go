package onedrive

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// DriveTarget identifies the drive a row reads from.
type DriveTarget struct {
	AccountType AccountType
	// SiteURL is the SharePoint site, e.g. https://contoso.sharepoint.com/sites/Finance.
	SiteURL string
	// LibraryName optionally selects a document library of the site by its list name.
	LibraryName string
}

// DriveRef is a resolved drive. Items are addressed relative to its base.
type DriveRef struct {
	Drive Drive
	// base is the Graph path of the drive, "me/drive" or "drives/{id}".
	base string
}

// ID returns the drive ID.
func (d DriveRef) ID() string {
	return d.Drive.ID
}

// ResolveDrive finds the drive for target: the signed-in user's drive for
// personal and business accounts, the site's default library for SharePoint,
// or the named library when one is given.
func (c *Client) ResolveDrive(ctx context.Context, target DriveTarget) (DriveRef, error) {
	switch target.AccountType {
	case AccountPersonal, AccountBusiness:
		var drive Drive
		if err := c.getJSON(ctx, c.baseURL+"me/drive", &drive, "get drive"); err != nil {
			return DriveRef{}, fmt.Errorf("getting drive of signed-in user: %w", err)
		}
		return DriveRef{Drive: drive, base: "me/drive"}, nil

	case AccountSharePoint:
		site, err := c.GetSiteByURL(ctx, target.SiteURL)
		if err != nil {
			return DriveRef{}, err
		}

		driveURL := c.baseURL + "sites/" + url.PathEscape(site.ID) + "/drive"
		if target.LibraryName != "" {
			list, err := c.findLibrary(ctx, site, target.LibraryName)
			if err != nil {
				return DriveRef{}, err
			}
			c.logger.Debugf("Using document library %q (list %s)", target.LibraryName, list.ID)
			driveURL = c.baseURL + "sites/" + url.PathEscape(site.ID) + "/lists/" + url.PathEscape(list.ID) + "/drive"
		}

		var drive Drive
		if err := c.getJSON(ctx, driveURL, &drive, "get site drive"); err != nil {
			return DriveRef{}, fmt.Errorf("getting drive of site %s: %w", target.SiteURL, err)
		}
		return DriveRef{Drive: drive, base: "drives/" + url.PathEscape(drive.ID)}, nil
	}
	return DriveRef{}, fmt.Errorf("%w: unknown account type %q", ErrInvalidRequest, target.AccountType)
}

// GetSiteByURL resolves a SharePoint site from its web URL.
func (c *Client) GetSiteByURL(ctx context.Context, siteURL string) (Site, error) {
	u, err := url.Parse(siteURL)
	if err != nil || u.Host == "" {
		return Site{}, fmt.Errorf("%w: invalid site URL %q", ErrInvalidRequest, siteURL)
	}

	apiURL := c.baseURL + "sites/" + url.PathEscape(u.Hostname())
	if p := strings.Trim(u.Path, "/"); p != "" {
		apiURL += ":/" + escapePath(p)
	}

	var site Site
	if err := c.getJSON(ctx, apiURL, &site, "get site"); err != nil {
		if errors.Is(err, ErrResourceNotFound) {
			return Site{}, fmt.Errorf("cannot find site %s, verify the site URL: %w", siteURL, err)
		}
		return Site{}, fmt.Errorf("getting site %s: %w", siteURL, err)
	}
	return site, nil
}

// GetDocumentLibraries lists the document libraries of a SharePoint site.
func (c *Client) GetDocumentLibraries(ctx context.Context, siteURL string) ([]Drive, error) {
	site, err := c.GetSiteByURL(ctx, siteURL)
	if err != nil {
		return nil, err
	}
	drives, err := collectAllPages[Drive](ctx, c, c.baseURL+"sites/"+url.PathEscape(site.ID)+"/drives", "list site drives")
	if err != nil {
		return nil, fmt.Errorf("getting document libraries for site %s: %w", siteURL, err)
	}
	return drives, nil
}

// findLibrary returns the site list whose name equals name.
func (c *Client) findLibrary(ctx context.Context, site Site, name string) (List, error) {
	lists, err := collectAllPages[List](ctx, c, c.baseURL+"sites/"+url.PathEscape(site.ID)+"/lists", "list site lists")
	if err != nil {
		return List{}, fmt.Errorf("listing libraries of site %s: %w", site.WebURL, err)
	}
	for _, l := range lists {
		if l.Name == name {
			return l, nil
		}
	}
	return List{}, fmt.Errorf("%w: library %q not found", ErrResourceNotFound, name)
}
