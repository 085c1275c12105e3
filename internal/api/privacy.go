package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// PrivacyPolicy serves the extension's privacy policy page. The Chrome Web
// Store listing links here, so the route stays public and unauthenticated.
func PrivacyPolicy(c *gin.Context) {
	c.Data(http.StatusOK, "text/html;charset=UTF-8", []byte(privacyPolicyHTML))
}

const privacyPolicyHTML = `<!DOCTYPE html>
<html lang="ja">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Privacy Policy</title>
    <style>
        body {
            font-family: 'Helvetica Neue', Arial, 'Hiragino Kaku Gothic ProN', 'Hiragino Sans', Meiryo, sans-serif;
            line-height: 1.6;
            color: #333;
            max-width: 800px;
            margin: 0 auto;
            padding: 20px;
            background-color: #f5f5f5;
        }
        .container {
            background-color: white;
            padding: 40px;
            border-radius: 8px;
            box-shadow: 0 2px 4px rgba(0,0,0,0.1);
        }
        h1 {
            color: #2c3e50;
            border-bottom: 2px solid #3498db;
            padding-bottom: 10px;
            margin-bottom: 30px;
        }
        h2 {
            color: #2c3e50;
            margin-top: 30px;
        }
        h3 {
            color: #34495e;
            margin-top: 25px;
        }
        hr {
            border: none;
            border-top: 1px solid #eee;
            margin: 30px 0;
        }
        ul {
            padding-left: 20px;
        }
        .contact {
            background-color: #f8f9fa;
            padding: 20px;
            border-radius: 4px;
            margin: 20px 0;
        }
        .date {
            text-align: right;
            margin-top: 40px;
            color: #666;
        }
    </style>
</head>
<body>
    <div class="container">
        <h1>Privacy Policy for Rocket Search AI</h1>

        <p>This Privacy Policy outlines the handling and protection of information collected by the service developer (hereinafter referred to as "the developer") through the Google Chrome extension "Rocket Search AI" (hereinafter referred to as "the extension"). The developer is committed to complying with Chrome Web Store guidelines and ensuring safe and appropriate operation.</p>

        <hr>

        <h3>1. Basic Policy</h3>
        <p>The developer recognizes the importance of protecting users' personal information and complies with laws and industry standards related to personal information. All collected information is strictly managed. Information obtained will not be used for any purpose other than providing and improving the extension service.</p>

        <h3>2. Scope of Application</h3>
        <p>This Privacy Policy applies to all information obtained through the use of this extension.</p>

        <h3>3. Information Collected and Purpose of Use</h3>
        <p>The extension collects and uses the following information for the purposes described below:</p>

        <h4>(1) Text Data from Web Pages</h4>
        <ul>
            <li><strong>Content Collected:</strong> Text data from web pages that users are browsing (only when users voluntarily submit such data).</li>
            <li><strong>Purpose of Use:</strong> The submitted text data is used to improve the accuracy of AI responses and enhance the service.</li>
        </ul>

        <h4>(2) Email Address</h4>
        <ul>
            <li><strong>Content Collected:</strong> Email address for user identification.</li>
            <li><strong>Collection Method:</strong> Entered by users through registration forms within the extension and stored on the server.</li>
            <li><strong>Purpose of Use:</strong> Used for user identification, account management, and necessary communications related to service provision.</li>
        </ul>

        <h4>(3) Communication Security</h4>
        <p><strong>Communication Protocol:</strong> All information sent and received by this extension uses HTTPS encrypted communication to prevent information leakage.</p>

        <h4>(4) Other Security Measures</h4>
        <p>The developer implements appropriate security technologies for server and database management and takes various security measures to minimize risks such as unauthorized access, information leakage, and tampering.</p>

        <h3>4. Information Management and Retention Period</h3>
        <ul>
            <li><strong>Management:</strong> Collected information is managed with appropriate security measures (e.g., access control, server monitoring, regular security updates).</li>
            <li><strong>Retention Period:</strong> Personal information such as email addresses is retained during the period of continued use of the extension or until a deletion request is received from the user, after which it is promptly deleted.</li>
        </ul>

        <h3>5. Third-Party Disclosure</h3>
        <p>The developer will never provide collected personal information to third parties without user consent. Information will be strictly managed except in cases where disclosure is required by law.</p>

        <h3>6. User Consent</h3>
        <p>By installing or starting to use this extension, you are deemed to have agreed to this Privacy Policy. If you have any questions or concerns, please contact us using the information below.</p>

        <h3>7. Contact Information</h3>
        <div class="contact">
            <p>For inquiries regarding this Privacy Policy, please contact us at the following email address:</p>
            <p>Email: mogeko6347@gmail.com</p>
        </div>

        <div class="date">
            <p>Established on<br>February 24, 2025</p>
            <p>Last Updated<br>August 5, 2025</p>
        </div>
    </div>
</body>
</html>`
