package onedrive

import "time"

// DriveItemList is one page of a children listing.
type DriveItemList struct {
	Value    []DriveItem `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

// DriveItem represents a file, folder or other item stored in a drive.
type DriveItem struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Size                 int64     `json:"size"`
	ETag                 string    `json:"eTag"`
	WebURL               string    `json:"webUrl"`
	CreatedDateTime      time.Time `json:"createdDateTime"`
	LastModifiedDateTime time.Time `json:"lastModifiedDateTime"`
	DownloadURL          string    `json:"@microsoft.graph.downloadUrl,omitempty"`
	ParentReference      struct {
		DriveID string `json:"driveId"`
		ID      string `json:"id"`
		Path    string `json:"path"`
	} `json:"parentReference"`
	File   *FileFacet   `json:"file,omitempty"`
	Folder *FolderFacet `json:"folder,omitempty"`
}

// FileFacet is present on items that are files.
type FileFacet struct {
	MimeType string `json:"mimeType"`
}

// FolderFacet is present on items that are folders.
type FolderFacet struct {
	ChildCount int `json:"childCount"`
}

// Drive is a OneDrive or a SharePoint document library.
type Drive struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	DriveType   string `json:"driveType"`
	WebURL      string `json:"webUrl"`
	Owner       struct {
		User struct {
			DisplayName string `json:"displayName"`
		} `json:"user"`
	} `json:"owner"`
	Quota struct {
		Total     int64  `json:"total"`
		Used      int64  `json:"used"`
		Remaining int64  `json:"remaining"`
		State     string `json:"state"`
	} `json:"quota"`
}

// Site is a SharePoint site.
type Site struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	WebURL      string `json:"webUrl"`
}

// List is a SharePoint list; document libraries are lists backed by a drive.
type List struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	WebURL      string `json:"webUrl"`
}

// RemoteFile describes a file found while walking a drive.
type RemoteFile struct {
	// Path is relative to the drive root, "/"-separated, without a leading slash.
	Path         string
	Name         string
	ID           string
	Size         int64
	LastModified time.Time
	// DownloadURL is the short-lived pre-authenticated URL, when Graph returned one.
	DownloadURL string
	// ContentURL is the authenticated content endpoint used when DownloadURL is empty.
	ContentURL string
}
