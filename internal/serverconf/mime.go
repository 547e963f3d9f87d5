package serverconf

// MimeType maps a file suffix to a content type.
type MimeType struct {
	Suffix      string
	ContentType string
}

// DefaultIndexFiles are tried in order for directory requests.
var DefaultIndexFiles = []string{"index.xhtml", "index.html", "index.htm", "default.htm", "index.php"}

// DefaultContentType is served when no suffix matches.
const DefaultContentType = "application/octet-stream"

// DefaultMimeTypes is the standard suffix table. Order matters: the first
// matching suffix wins, so ".tar.gz" precedes ".gz".
var DefaultMimeTypes = []MimeType{
	{".epub", "application/epub+zip"},
	{".ncx", "application/xml"},
	{".pdf", "application/pdf"},
	{".sig", "application/pgp-signature"},
	{".spl", "application/futuresplash"},
	{".class", "application/octet-stream"},
	{".ps", "application/postscript"},
	{".torrent", "application/x-bittorrent"},
	{".dvi", "application/x-dvi"},
	{".tar.gz", "application/x-tgz"},
	{".gz", "application/x-gzip"},
	{".pac", "application/x-ns-proxy-autoconfig"},
	{".swf", "application/x-shockwave-flash"},
	{".tgz", "application/x-tgz"},
	{".tar.bz2", "application/x-bzip-compressed-tar"},
	{".tar", "application/x-tar"},
	{".zip", "application/zip"},
	{".mp3", "audio/mpeg"},
	{".m3u", "audio/x-mpegurl"},
	{".wma", "audio/x-ms-wma"},
	{".wax", "audio/x-ms-wax"},
	{".ogg", "application/ogg"},
	{".wav", "audio/x-wav"},
	{".gif", "image/gif"},
	{".jpg", "image/jpeg"},
	{".jpeg", "image/jpeg"},
	{".png", "image/png"},
	{".xbm", "image/x-xbitmap"},
	{".xpm", "image/x-xpixmap"},
	{".xwd", "image/x-xwindowdump"},
	{".css", "text/css; charset=utf-8"},
	{".html", "text/html"},
	{".htm", "text/html"},
	{".js", "text/javascript"},
	{".asc", "text/plain; charset=utf-8"},
	{".c", "text/plain; charset=utf-8"},
	{".cpp", "text/plain; charset=utf-8"},
	{".log", "text/plain; charset=utf-8"},
	{".conf", "text/plain; charset=utf-8"},
	{".text", "text/plain; charset=utf-8"},
	{".txt", "text/plain; charset=utf-8"},
	{".spec", "text/plain; charset=utf-8"},
	{".dtd", "text/xml"},
	{".xml", "text/xml"},
	{".mpeg", "video/mpeg"},
	{".mpg", "video/mpeg"},
	{".mov", "video/quicktime"},
	{".qt", "video/quicktime"},
	{".avi", "video/x-msvideo"},
	{".asf", "video/x-ms-asf"},
	{".asx", "video/x-ms-asf"},
	{".wmv", "video/x-ms-wmv"},
	{".bz2", "application/x-bzip"},
	{".tbz", "application/x-bzip-compressed-tar"},
	{".odt", "application/vnd.oasis.opendocument.text"},
	{".ods", "application/vnd.oasis.opendocument.spreadsheet"},
	{".odp", "application/vnd.oasis.opendocument.presentation"},
	{".odg", "application/vnd.oasis.opendocument.graphics"},
	{".odc", "application/vnd.oasis.opendocument.chart"},
	{".odf", "application/vnd.oasis.opendocument.formula"},
	{".odi", "application/vnd.oasis.opendocument.image"},
	{".odm", "application/vnd.oasis.opendocument.text-master"},
	{".opf", "application/oebps-package+xml"},
	{".ott", "application/vnd.oasis.opendocument.text-template"},
	{".ots", "application/vnd.oasis.opendocument.spreadsheet-template"},
	{".otp", "application/vnd.oasis.opendocument.presentation-template"},
	{".otg", "application/vnd.oasis.opendocument.graphics-template"},
	{".otc", "application/vnd.oasis.opendocument.chart-template"},
	{".otf", "font/otf"},
	{".oti", "application/vnd.oasis.opendocument.image-template"},
	{".oth", "application/vnd.oasis.opendocument.text-web"},
	{".svg", "image/svg+xml"},
	{".ttf", "font/ttf"},
	{".xhtml", "application/xhtml+xml"},
}
